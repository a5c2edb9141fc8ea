// Package gateway implements the forwarding engine: the accept
// dispatcher, the pool of forwarder workers, and the connection lifecycle
// that binds each client socket to a backend socket via kernel splice.
package gateway

import (
	"fmt"
	"log/slog"

	"github.com/dbbouncer/dbbouncer/internal/config"
	"github.com/dbbouncer/dbbouncer/internal/metrics"
	"github.com/dbbouncer/dbbouncer/internal/registry"
)

// Gateway owns the listening socket, the worker pool, and the accept
// dispatcher. It does not own the registry or the primary selector;
// those are constructed and started independently by the caller and
// merely referenced here.
type Gateway struct {
	workers    []*worker
	dispatcher *dispatcher
}

// New binds the listening socket and constructs (but does not start) the
// worker pool and accept dispatcher.
func New(cfg *config.Config, r *registry.Registry, m *metrics.Collector) (*Gateway, error) {
	ignoreSIGPIPE()

	listenFD, err := listen(cfg.ListenHost, cfg.ListenPort)
	if err != nil {
		return nil, fmt.Errorf("gateway listen: %w", err)
	}

	workers := make([]*worker, cfg.Tuning.NumThreads)
	for i := range workers {
		w, err := newWorker(i, r, m)
		if err != nil {
			for _, prior := range workers[:i] {
				if prior != nil {
					prior.stop()
				}
			}
			return nil, fmt.Errorf("creating worker %d: %w", i, err)
		}
		workers[i] = w
	}

	d := newDispatcher(listenFD, workers, r, m, cfg.Tuning)

	return &Gateway{workers: workers, dispatcher: d}, nil
}

// Start launches every worker's event loop and the accept dispatcher.
func (g *Gateway) Start() {
	for _, w := range g.workers {
		w.start()
	}
	go g.dispatcher.run()
	slog.Info("gateway started", "workers", len(g.workers))
}

// Stop halts the accept dispatcher first (no new connections), then each
// worker (tearing down their owned connections without draining them).
func (g *Gateway) Stop() {
	g.dispatcher.stop()
	for _, w := range g.workers {
		w.stop()
	}
	slog.Info("gateway stopped")
}

// LoadCounts returns the current per-worker load counters, in worker
// index order. Exposed for tests and for the least-loaded-placement
// testable property.
func (g *Gateway) LoadCounts() []int64 {
	counts := make([]int64, len(g.workers))
	for i, w := range g.workers {
		counts[i] = w.loadCount()
	}
	return counts
}
