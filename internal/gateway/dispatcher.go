package gateway

import (
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dbbouncer/dbbouncer/internal/config"
	"github.com/dbbouncer/dbbouncer/internal/metrics"
	"github.com/dbbouncer/dbbouncer/internal/registry"
)

// noPrimaryMessage is the human message carried by the synthetic error
// frame sent when no primary is currently known.
const noPrimaryMessage = "no primary backend is currently available"

// dispatcher owns the client-facing listening socket and turns each
// accepted connection into a worker-owned connRecord bound to the
// current primary.
type dispatcher struct {
	listenFD int
	workers  []*worker
	registry *registry.Registry
	metrics  *metrics.Collector
	tuning   config.TuningConfig

	stopCh chan struct{}
	done   chan struct{}
}

func newDispatcher(listenFD int, workers []*worker, r *registry.Registry, m *metrics.Collector, tuning config.TuningConfig) *dispatcher {
	return &dispatcher{
		listenFD: listenFD,
		workers:  workers,
		registry: r,
		metrics:  m,
		tuning:   tuning,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run is the accept loop. It blocks until stop is called or the listening
// socket errors out for a reason other than "nothing pending".
func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		clientFD, _, err := acceptNonblocking(d.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(time.Millisecond)
				continue
			}
			if err == unix.EINTR {
				continue
			}
			slog.Error("accept loop exiting", "error", err)
			return
		}

		d.handleAccept(clientFD)
	}
}

func (d *dispatcher) stop() {
	close(d.stopCh)
	unix.Close(d.listenFD)
	<-d.done
}

// handleAccept runs the accept dispatcher's per-connection steps in the
// order the lifecycle model requires: apply socket options, sample
// routing state, dial the backend, allocate the record, create pipes,
// pick a worker, register, and only then count the connection.
func (d *dispatcher) handleAccept(clientFD int) {
	applyClientSocketOptions(clientFD, d.tuning.TCPKeepAlive)

	primaryIndex, epoch := d.registry.Sample()
	candidate := d.registry.Candidate(primaryIndex)
	if candidate == nil {
		sendErrorFrame(clientFD, noPrimaryMessage)
		unix.Close(clientFD)
		return
	}

	addr := candidate.ResolvedAddr()
	if addr == nil {
		sendErrorFrame(clientFD, noPrimaryMessage)
		unix.Close(clientFD)
		return
	}

	backendFD, completed, err := dialNonblocking(addr)
	if err != nil {
		slog.Debug("backend dial failed", "candidate", candidate.String(), "error", err)
		unix.Close(clientFD)
		return
	}

	rec := newConnRecord(clientFD, backendFD, epoch, completed)

	c2bRead, c2bWrite, err := newNonblockingPipe()
	if err != nil {
		slog.Debug("c2b pipe creation failed", "error", err)
		rec.closeAll()
		return
	}
	rec.c2bRead, rec.c2bWrite = c2bRead, c2bWrite

	b2cRead, b2cWrite, err := newNonblockingPipe()
	if err != nil {
		slog.Debug("b2c pipe creation failed", "error", err)
		rec.closeAll()
		return
	}
	rec.b2cRead, rec.b2cWrite = b2cRead, b2cWrite

	w := d.leastLoadedWorker()

	if err := w.register(rec); err != nil {
		slog.Debug("worker registration failed", "error", err)
		rec.closeAll()
		return
	}

	rec.registered = true
	w.load.Add(1)
	d.metrics.IncActiveConnections()

	w.wake()
}

// leastLoadedWorker picks the worker with the minimum current load,
// ties broken by lowest index.
func (d *dispatcher) leastLoadedWorker() *worker {
	best := d.workers[0]
	for _, w := range d.workers[1:] {
		if w.loadCount() < best.loadCount() {
			best = w
		}
	}
	return best
}
