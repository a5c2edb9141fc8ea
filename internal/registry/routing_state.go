package registry

import "sync/atomic"

// routingState packs the primary index and the epoch into a single
// atomic.Int64 word so that readers always observe a mutually consistent
// (index, epoch) pair — two independent atomics would let a concurrent
// publish land between the two loads and produce a pairing that was never
// actually published (see DESIGN.md, Open Question 1).
//
// Layout: low 32 bits = epoch (uint32), high 32 bits = index+1 as int32
// (so "no primary" encodes as 0, and real indices are >= 1).
type routingState struct {
	word atomic.Int64
}

func (s *routingState) init() {
	s.store(-1, 0)
}

func pack(index int, epoch int64) int64 {
	biased := int32(index + 1)
	return int64(uint32(epoch)) | int64(biased)<<32
}

func unpack(word int64) (index int, epoch int64) {
	epoch = int64(uint32(word))
	biased := int32(word >> 32)
	index = int(biased) - 1
	return index, epoch
}

func (s *routingState) load() (index int, epoch int64) {
	return unpack(s.word.Load())
}

func (s *routingState) store(index int, epoch int64) {
	s.word.Store(pack(index, epoch))
}
