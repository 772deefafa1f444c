package strace

import (
	"fmt"
	"sync/atomic"
)

// Outcome is what the reassembler did with one input line, or with a
// fragment at end of stream.
type Outcome uint8

const (
	OutcomePassthrough  Outcome = 0
	OutcomeSpawn        Outcome = 1
	OutcomeBuffered     Outcome = 2
	OutcomeMerged       Outcome = 3
	OutcomeOrphanResume Outcome = 4
	OutcomeMalformed    Outcome = 5
	OutcomeDangling     Outcome = 6

	maxOutcome = OutcomeDangling
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePassthrough:
		return "passthrough"
	case OutcomeSpawn:
		return "spawn"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeMerged:
		return "merged"
	case OutcomeOrphanResume:
		return "orphan_resume"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDangling:
		return "dangling"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// Outcomes lists every known outcome in order.
func Outcomes() []Outcome {
	out := make([]Outcome, 0, maxOutcome+1)
	for o := OutcomePassthrough; o <= maxOutcome; o++ {
		out = append(out, o)
	}

	return out
}

// Stats provides lock-free per-Outcome counters. The reassembler
// records from its own goroutine; a reporter may Snapshot concurrently.
type Stats struct {
	counts [maxOutcome + 1]atomic.Uint64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Record increments the counter for o by one.
func (s *Stats) Record(o Outcome) {
	s.RecordN(o, 1)
}

// RecordN increments the counter for o by n.
func (s *Stats) RecordN(o Outcome, n uint64) {
	if o > maxOutcome {
		return
	}

	s.counts[o].Add(n)
}

// Snapshot atomically reads and resets all counters, returning
// only non-zero entries.
func (s *Stats) Snapshot() map[Outcome]uint64 {
	result := make(map[Outcome]uint64, maxOutcome+1)

	for i := range s.counts {
		if v := s.counts[i].Swap(0); v > 0 {
			result[Outcome(i)] = v
		}
	}

	return result
}
