package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers. A single Sequencer
// is shared by every book of an exchange so arrival order is global.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first Next() returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
