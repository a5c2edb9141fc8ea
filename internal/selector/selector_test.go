package selector

import (
	"testing"
	"time"

	"github.com/dbbouncer/dbbouncer/internal/config"
	"github.com/dbbouncer/dbbouncer/internal/metrics"
	"github.com/dbbouncer/dbbouncer/internal/registry"
)

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusUnknown:   "unknown",
		StatusPrimary:   "primary",
		StatusReplica:   "replica",
		StatusUnhealthy: "unhealthy",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestClassifyScanPicksFirstPrimaryInOrder(t *testing.T) {
	results := []classification{
		{status: StatusReplica},
		{status: StatusPrimary},
		{status: StatusPrimary}, // split brain: second primary, not selected
		{status: StatusUnhealthy},
	}
	idx, healthy, unhealthy := classifyScan(results)
	if idx != 1 {
		t.Errorf("expected primaryIndex=1, got %d", idx)
	}
	if healthy != 3 {
		t.Errorf("expected healthy=3, got %d", healthy)
	}
	if unhealthy != 1 {
		t.Errorf("expected unhealthy=1, got %d", unhealthy)
	}
}

func TestClassifyScanNoPrimary(t *testing.T) {
	results := []classification{
		{status: StatusReplica},
		{status: StatusUnhealthy},
		{status: StatusUnhealthy},
	}
	idx, healthy, unhealthy := classifyScan(results)
	if idx != -1 {
		t.Errorf("expected primaryIndex=-1, got %d", idx)
	}
	if healthy != 1 {
		t.Errorf("expected healthy=1, got %d", healthy)
	}
	if unhealthy != 2 {
		t.Errorf("expected unhealthy=2, got %d", unhealthy)
	}
}

func TestClassifyScanEmpty(t *testing.T) {
	idx, healthy, unhealthy := classifyScan(nil)
	if idx != -1 || healthy != 0 || unhealthy != 0 {
		t.Errorf("expected (-1,0,0) for empty scan, got (%d,%d,%d)", idx, healthy, unhealthy)
	}
}

func TestNewSelectorDefaults(t *testing.T) {
	r := registry.New([]config.CandidateSpec{{Host: "p1", Port: 5432}}, "postgres", 800)
	m := metrics.New()
	s := New(r, m, config.ProbeConfig{
		CheckEvery:     2 * time.Second,
		ConnectTimeout: 800 * time.Millisecond,
		QueryTimeout:   500 * time.Millisecond,
	})

	if s.registry != r {
		t.Error("expected selector to retain the registry reference")
	}
	c := r.Candidates()[0]
	if s.Status(c) != StatusUnknown {
		t.Errorf("expected StatusUnknown before any probe, got %v", s.Status(c))
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	r := registry.New([]config.CandidateSpec{{Host: "p1", Port: 5432}}, "postgres", 800)
	s := New(r, nil, config.ProbeConfig{CheckEvery: time.Second})
	s.Stop()
	s.Stop() // must not panic on the second call
}
