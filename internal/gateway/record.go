package gateway

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// connState is the connection record's lifecycle state. Transitions from
// connecting are one-way: to established on successful connect, or to
// teardown on error.
type connState int32

const (
	stateConnecting connState = iota
	stateEstablished
)

// connRecord is a single client<->backend forwarding session. It is
// private to its owning worker once handed off by the accept dispatcher;
// nothing outside the worker touches it again except the batch-local
// invalidation performed in worker.teardown.
//
// The record is intentionally never freed: a later entry in the same
// epoll batch may still reference it,
// and nothing prevents a subsequent batch from doing the same if
// deregistration raced with the wakeup write. Freeing it would turn that
// race into a use-after-free.
type connRecord struct {
	clientFD  int
	backendFD int

	c2bRead  int
	c2bWrite int
	b2cRead  int
	b2cWrite int

	epoch int64
	state connState

	closedOnce atomic.Bool
	registered bool
}

func newConnRecord(clientFD, backendFD int, epoch int64, established bool) *connRecord {
	r := &connRecord{
		clientFD:  clientFD,
		backendFD: backendFD,
		c2bRead:   -1,
		c2bWrite:  -1,
		b2cRead:   -1,
		b2cWrite:  -1,
		epoch:     epoch,
	}
	if established {
		r.state = stateEstablished
	} else {
		r.state = stateConnecting
	}
	return r
}

// fds returns all six tracked file descriptors, in closing order.
func (r *connRecord) fds() [6]int {
	return [6]int{r.clientFD, r.backendFD, r.c2bRead, r.c2bWrite, r.b2cRead, r.b2cWrite}
}

// closeAll closes every fd that is >= 0 and resets it to -1. Safe to call
// more than once; already-cleared fds are skipped.
func (r *connRecord) closeAll() {
	ptrs := [6]*int{&r.clientFD, &r.backendFD, &r.c2bRead, &r.c2bWrite, &r.b2cRead, &r.b2cWrite}
	for _, p := range ptrs {
		if *p >= 0 {
			unix.Close(*p)
			*p = -1
		}
	}
}

// markClosed atomically flips the closed-once guard from false to true.
// Returns true for the winning caller; false if the record was already
// torn down.
func (r *connRecord) markClosed() bool {
	return r.closedOnce.CompareAndSwap(false, true)
}
