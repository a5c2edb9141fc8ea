package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/dbbouncer/dbbouncer/internal/metrics"
	"github.com/dbbouncer/dbbouncer/internal/registry"
)

// stepResult is the outcome of one forwarding step attempt.
type stepResult int

const (
	stepNoop stepResult = iota
	stepClientClosed
	stepBackendClosed
	stepFatal
)

const (
	pollTimeoutMs   = 1000
	connectPollMask = maskRead | maskWrite
)

// worker is one forwarder event loop. It owns a private epoll instance, a
// wakeup pipe, and a load counter; every connRecord handed to it via
// register is exclusively its own until teardown.
type worker struct {
	id       int
	p        *poller
	registry *registry.Registry
	metrics  *metrics.Collector

	wakeupRead  int
	wakeupWrite int
	wakePending atomic.Bool

	mu    sync.Mutex
	byFD  map[int]*connRecord
	load  atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newWorker(id int, r *registry.Registry, m *metrics.Collector) (*worker, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		p.close()
		return nil, err
	}

	w := &worker{
		id:          id,
		p:           p,
		registry:    r,
		metrics:     m,
		wakeupRead:  fds[0],
		wakeupWrite: fds[1],
		byFD:        make(map[int]*connRecord),
		stopCh:      make(chan struct{}),
	}

	if err := p.add(w.wakeupRead, maskRead); err != nil {
		unix.Close(w.wakeupRead)
		unix.Close(w.wakeupWrite)
		p.close()
		return nil, err
	}

	return w, nil
}

func (w *worker) loadCount() int64 {
	return w.load.Load()
}

// wake writes one byte to the wakeup pipe, best-effort, at most once
// between drains: a pending flag collapses a storm of wakeups from
// concurrent accepts into a single write, and EAGAIN from a full pipe is
// harmless because the worker is already guaranteed to wake up.
func (w *worker) wake() {
	if !w.wakePending.CompareAndSwap(false, true) {
		return
	}
	unix.Write(w.wakeupWrite, []byte{0})
}

func (w *worker) drainWakeup() {
	w.wakePending.Store(false)
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(w.wakeupRead, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// register hands a newly accepted connection record to this worker: it
// adds both sockets to the worker's readiness set with their initial
// masks and makes the record visible to the event loop.
func (w *worker) register(rec *connRecord) error {
	clientMask := maskRead
	backendMask := maskRead
	if rec.state == stateConnecting {
		backendMask |= maskWrite
	}

	if err := w.p.add(rec.clientFD, clientMask); err != nil {
		return err
	}
	if err := w.p.add(rec.backendFD, backendMask); err != nil {
		w.p.remove(rec.clientFD)
		return err
	}

	w.mu.Lock()
	w.byFD[rec.clientFD] = rec
	w.byFD[rec.backendFD] = rec
	w.mu.Unlock()

	return nil
}

// start launches the event loop in its own goroutine.
func (w *worker) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// stop signals the event loop to exit and waits for it, then tears down
// every connection the worker still owns.
func (w *worker) stop() {
	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	records := make(map[*connRecord]struct{}, len(w.byFD))
	for _, rec := range w.byFD {
		records[rec] = struct{}{}
	}
	w.mu.Unlock()

	for rec := range records {
		w.teardown(rec, nil, -1)
	}

	w.p.close()
	unix.Close(w.wakeupRead)
	unix.Close(w.wakeupWrite)
}

func (w *worker) run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.p.wait(pollTimeoutMs)
		if err != nil {
			slog.Error("worker poll error", "worker", w.id, "error", err)
			return
		}

		epoch := w.registry.Epoch()

		for i := range events {
			fd := int(events[i].Fd)
			if fd == w.wakeupRead {
				w.drainWakeup()
				continue
			}

			w.mu.Lock()
			rec := w.byFD[fd]
			w.mu.Unlock()
			if rec == nil {
				continue
			}

			if rec.epoch != epoch {
				w.teardown(rec, events, i)
				continue
			}

			result := w.forwardingStep(rec)
			if result != stepNoop {
				w.teardown(rec, events, i)
				continue
			}
			w.rearm(rec)
		}
	}
}

// forwardingStep is the idempotent, event-driven core described by the
// connection lifecycle: advance a pending connect, then splice in both
// directions until each side would block.
func (w *worker) forwardingStep(rec *connRecord) stepResult {
	if rec.state == stateConnecting {
		errno, err := pendingSocketError(rec.backendFD)
		if err != nil {
			return stepFatal
		}
		if errno != 0 {
			return stepFatal
		}
		rec.state = stateEstablished
	}

	if res := w.spliceDirection(rec.clientFD, rec.c2bRead, rec.c2bWrite, rec.backendFD, true); res != stepNoop {
		return res
	}
	if res := w.spliceDirection(rec.backendFD, rec.b2cRead, rec.b2cWrite, rec.clientFD, false); res != stepNoop {
		return res
	}
	return stepNoop
}

// spliceDirection drains srcFD into the pipe and the pipe into dstFD,
// each capped at spliceChunk per call, until either side reports EAGAIN.
// clientSide distinguishes which metric and which "closed" classification
// applies: a zero-length read on the client is an ordinary half-close; on
// the backend it is logged louder as an unsolicited hangup.
func (w *worker) spliceDirection(srcFD, pipeRead, pipeWrite, dstFD int, clientSide bool) stepResult {
	result := stepNoop
	for {
		n, err := unix.Splice(srcFD, nil, pipeWrite, nil, spliceChunk, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			result = stepFatal
			break
		}
		if n == 0 {
			if clientSide {
				result = stepClientClosed
			} else {
				result = stepBackendClosed
			}
			break
		}
		if clientSide {
			w.metrics.AddBytesClientToBackend(int(n))
		} else {
			w.metrics.AddBytesBackendToClient(int(n))
		}
	}

	// Flush whatever landed in the pipe regardless of how the read side
	// above finished, so bytes already accepted from srcFD are never
	// stranded in the pipe when the connection is about to be torn down.
	for {
		n, err := unix.Splice(pipeRead, nil, dstFD, nil, spliceChunk, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return stepFatal
		}
		if n == 0 {
			break
		}
	}

	return result
}

// rearm recomputes and applies each socket's readiness mask based on
// connection state and pipe residuals.
func (w *worker) rearm(rec *connRecord) {
	clientMask := maskRead
	backendMask := maskRead

	if rec.state == stateConnecting {
		backendMask |= maskWrite
	} else {
		if residual, err := pipeResidual(rec.b2cRead); err == nil && residual > 0 {
			clientMask |= maskWrite
		}
		if residual, err := pipeResidual(rec.c2bRead); err == nil && residual > 0 {
			backendMask |= maskWrite
		}
	}

	w.p.modify(rec.clientFD, clientMask)
	w.p.modify(rec.backendFD, backendMask)
}

// teardown applies the connection teardown rules: exactly-once guard,
// batch-local invalidation, deregistration, fd closing, and symmetric
// counter decrement.
func (w *worker) teardown(rec *connRecord, batch []unix.EpollEvent, batchIdx int) {
	if !rec.markClosed() {
		return
	}

	if batch != nil {
		for j := batchIdx + 1; j < len(batch); j++ {
			if int(batch[j].Fd) == rec.clientFD || int(batch[j].Fd) == rec.backendFD {
				batch[j].Fd = -1
			}
		}
	}

	w.p.remove(rec.clientFD)
	w.p.remove(rec.backendFD)

	w.mu.Lock()
	delete(w.byFD, rec.clientFD)
	delete(w.byFD, rec.backendFD)
	w.mu.Unlock()

	rec.closeAll()

	if rec.registered {
		w.load.Add(-1)
		w.metrics.DecActiveConnections()
	}
}
