// Package registry holds the candidate backend list and the gateway's
// global routing state (current primary index + epoch). The candidate
// list is immutable after startup; only the resolved address cached on
// each Candidate is mutated, and only by the primary selector.
package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/dbbouncer/dbbouncer/internal/config"
)

// Candidate is one configured backend endpoint.
type Candidate struct {
	Host string
	Port int

	// ProbeDSN is the precomputed lib/pq connection string used by the
	// primary selector. It never changes after construction.
	ProbeDSN string

	addr atomic.Pointer[ResolvedAddr]
}

// ResolvedAddr returns the candidate's cached resolved address, or nil if
// it has never been successfully resolved.
func (c *Candidate) ResolvedAddr() *ResolvedAddr {
	return c.addr.Load()
}

// SetResolvedAddr updates the candidate's cached resolved address. Called
// only by the primary selector.
func (c *Candidate) SetResolvedAddr(a *ResolvedAddr) {
	c.addr.Store(a)
}

func (c *Candidate) String() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Registry is the immutable-after-startup list of candidates plus the
// shared atomic routing state (primary index + epoch).
type Registry struct {
	candidates []*Candidate
	routing    routingState
}

// New builds a Registry from parsed candidate specs. The probe database
// name is baked into each candidate's ProbeDSN. connectTimeoutMs is
// converted to whole seconds for libpq's connect_timeout parameter, which
// only accepts second-granularity values and treats 0 as "no timeout."
func New(specs []config.CandidateSpec, probeDatabase string, connectTimeoutMs int) *Registry {
	connectTimeoutSec := (connectTimeoutMs + 999) / 1000
	if connectTimeoutSec < 1 {
		connectTimeoutSec = 1
	}

	candidates := make([]*Candidate, 0, len(specs))
	for _, s := range specs {
		candidates = append(candidates, &Candidate{
			Host: s.Host,
			Port: s.Port,
			ProbeDSN: fmt.Sprintf(
				"host=%s port=%d dbname=%s connect_timeout=%d sslmode=prefer",
				s.Host, s.Port, probeDatabase, connectTimeoutSec,
			),
		})
	}
	r := &Registry{candidates: candidates}
	r.routing.init()
	return r
}

// Candidates returns the immutable candidate slice, in CANDIDATES scan
// order.
func (r *Registry) Candidates() []*Candidate {
	return r.candidates
}

// Len returns the number of candidates.
func (r *Registry) Len() int {
	return len(r.candidates)
}

// Sample atomically reads (primaryIndex, epoch) as a single consistent
// pair, for use by the accept dispatcher when binding a new connection.
func (r *Registry) Sample() (primaryIndex int, epoch int64) {
	return r.routing.load()
}

// Epoch returns the current epoch alone (used by workers to detect stale
// connections without needing the index).
func (r *Registry) Epoch() int64 {
	_, epoch := r.routing.load()
	return epoch
}

// PrimaryIndex returns the current primary index alone (-1 if none).
func (r *Registry) PrimaryIndex() int {
	index, _ := r.routing.load()
	return index
}

// Publish updates the primary index if it differs from the currently
// published value, bumping the epoch. Returns the resulting epoch and
// whether a change was made. Called only by the primary selector, which is
// single-threaded, so no CAS retry loop is required.
func (r *Registry) Publish(newIndex int) (epoch int64, changed bool) {
	curIndex, curEpoch := r.routing.load()
	if curIndex == newIndex {
		return curEpoch, false
	}
	newEpoch := curEpoch + 1
	r.routing.store(newIndex, newEpoch)
	return newEpoch, true
}

// Candidate resolves a primary index to its Candidate, or nil if the index
// is out of range (including -1, meaning "no primary").
func (r *Registry) Candidate(index int) *Candidate {
	if index < 0 || index >= len(r.candidates) {
		return nil
	}
	return r.candidates[index]
}
