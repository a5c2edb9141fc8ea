// Package selector implements the primary selector: the periodic prober
// that classifies every candidate backend and keeps the registry's
// published primary index and epoch in line with reality.
package selector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/dbbouncer/dbbouncer/internal/config"
	"github.com/dbbouncer/dbbouncer/internal/metrics"
	"github.com/dbbouncer/dbbouncer/internal/registry"
)

// Status is a candidate's classification on its most recent probe.
type Status int

const (
	StatusUnknown Status = iota
	StatusPrimary
	StatusReplica
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusPrimary:
		return "primary"
	case StatusReplica:
		return "replica"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Selector runs the periodic scan described by the gateway's primary
// selection contract: resolve, probe, classify, and publish.
type Selector struct {
	registry *registry.Registry
	metrics  *metrics.Collector

	checkEvery     time.Duration
	connectTimeout time.Duration
	queryTimeout   time.Duration

	mu    sync.Mutex
	chans map[*registry.Candidate]*sql.DB
	last  map[*registry.Candidate]classification

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type classification struct {
	status Status
	errMsg string
}

// New builds a Selector bound to the given registry. probeCfg supplies the
// scan cadence and the connect/query timeouts applied to probe channels.
func New(r *registry.Registry, m *metrics.Collector, probeCfg config.ProbeConfig) *Selector {
	return &Selector{
		registry:       r,
		metrics:        m,
		checkEvery:     probeCfg.CheckEvery,
		connectTimeout: probeCfg.ConnectTimeout,
		queryTimeout:   probeCfg.QueryTimeout,
		chans:          make(map[*registry.Candidate]*sql.DB),
		last:           make(map[*registry.Candidate]classification),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic scan loop in its own goroutine.
func (s *Selector) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	slog.Info("primary selector started", "check_every", s.checkEvery, "candidates", s.registry.Len())
}

// Stop halts the scan loop and closes all open probe channels. Safe to
// call multiple times.
func (s *Selector) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, db := range s.chans {
		db.Close()
	}
}

func (s *Selector) run() {
	s.scan()

	ticker := time.NewTicker(s.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scan()
		case <-s.stopCh:
			return
		}
	}
}

// scan performs one full pass over every candidate, in order, and
// publishes the result.
func (s *Selector) scan() {
	candidates := s.registry.Candidates()
	results := make([]classification, len(candidates))

	for i, c := range candidates {
		results[i] = s.probe(c)
	}

	primaryIndex, healthy, unhealthy := classifyScan(results)

	if s.metrics != nil {
		s.metrics.SetServerCounts(len(candidates), healthy, unhealthy)
	}

	epoch, changed := s.registry.Publish(primaryIndex)
	s.logTransition(candidates, results, primaryIndex, epoch, changed)
}

// classifyScan finds the first Primary in scan order and counts healthy
// (Primary or Replica) versus unhealthy candidates. Additional primaries
// beyond the first are counted as healthy but do not affect the returned
// index — they are "Primary-Not-Used" split-brain candidates.
func classifyScan(results []classification) (primaryIndex, healthy, unhealthy int) {
	primaryIndex = -1
	for i, r := range results {
		switch r.status {
		case StatusPrimary:
			healthy++
			if primaryIndex == -1 {
				primaryIndex = i
			}
		case StatusReplica:
			healthy++
		default:
			unhealthy++
		}
	}
	return primaryIndex, healthy, unhealthy
}

func (s *Selector) logTransition(candidates []*registry.Candidate, results []classification, primaryIndex int, epoch int64, changed bool) {
	if !changed {
		return
	}

	if primaryIndex >= 0 {
		slog.Info("primary changed", "primary", candidates[primaryIndex].String(), "epoch", epoch)
	} else {
		slog.Warn("no primary available", "epoch", epoch)
	}

	for i, c := range candidates {
		r := results[i]
		if r.status == StatusUnhealthy {
			slog.Info("candidate classified", "candidate", c.String(), "status", r.status.String(), "error", r.errMsg)
		} else {
			slog.Info("candidate classified", "candidate", c.String(), "status", r.status.String())
		}
	}
}

// probe runs the per-candidate probe cycle: ensure a channel, apply the
// statement timeout on a freshly opened channel, and ask whether the
// session is read-only.
func (s *Selector) probe(c *registry.Candidate) classification {
	db, freshlyOpened, err := s.ensureChannel(c)
	if err != nil {
		s.invalidate(c)
		result := classification{status: StatusUnhealthy, errMsg: err.Error()}
		s.recordResult(c, result)
		return result
	}

	if freshlyOpened {
		if _, err := db.Exec(fmt.Sprintf("SET statement_timeout = %d", s.queryTimeout.Milliseconds())); err != nil {
			s.invalidate(c)
			result := classification{status: StatusUnhealthy, errMsg: fmt.Sprintf("set statement_timeout: %s", err)}
			s.recordResult(c, result)
			return result
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	var readOnly string
	if err := db.QueryRowContext(ctx, "SHOW transaction_read_only").Scan(&readOnly); err != nil {
		s.invalidate(c)
		result := classification{status: StatusUnhealthy, errMsg: fmt.Sprintf("probe query: %s", err)}
		s.recordResult(c, result)
		return result
	}

	status := StatusPrimary
	if readOnly == "on" {
		status = StatusReplica
	}
	result := classification{status: status}
	s.recordResult(c, result)
	return result
}

// ensureChannel returns the candidate's live probe channel, opening one
// (after resolving the candidate's address) if none exists.
func (s *Selector) ensureChannel(c *registry.Candidate) (db *sql.DB, freshlyOpened bool, err error) {
	s.mu.Lock()
	existing, ok := s.chans[c]
	s.mu.Unlock()
	if ok {
		return existing, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()

	addr, err := registry.ResolveTCPAddr(ctx, c.Host, c.Port)
	if err != nil {
		return nil, false, fmt.Errorf("resolve %s: %w", c.String(), err)
	}
	c.SetResolvedAddr(addr)

	db, err = sql.Open("postgres", c.ProbeDSN)
	if err != nil {
		return nil, false, fmt.Errorf("open probe channel for %s: %w", c.String(), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("connect to %s: %w", c.String(), err)
	}

	s.mu.Lock()
	s.chans[c] = db
	s.mu.Unlock()
	return db, true, nil
}

// invalidate closes and forgets a candidate's probe channel so the next
// cycle reconnects from scratch.
func (s *Selector) invalidate(c *registry.Candidate) {
	s.mu.Lock()
	db, ok := s.chans[c]
	if ok {
		delete(s.chans, c)
	}
	s.mu.Unlock()
	if ok {
		db.Close()
	}
}

func (s *Selector) recordResult(c *registry.Candidate, result classification) {
	s.mu.Lock()
	s.last[c] = result
	s.mu.Unlock()
}

// Status returns the candidate's most recently recorded classification.
func (s *Selector) Status(c *registry.Candidate) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[c].status
}
