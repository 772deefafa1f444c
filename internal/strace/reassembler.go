package strace

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyProcessed is returned when Process is invoked a second time
// on the same Reassembler.
var ErrAlreadyProcessed = errors.New("reassembler already consumed a stream")

// Output is one emitted line.
type Output struct {
	// Outcome is OutcomePassthrough, OutcomeSpawn, OutcomeMalformed
	// or OutcomeMerged.
	Outcome Outcome
	Tag     Tag
	// Call is set for merged lines.
	Call string
	Text string
}

// Reassembler joins "<unfinished ...>" lines with their matching
// "<... NAME resumed>" lines in a single forward pass. It is not safe
// for concurrent use; Stats and Pending may be read from other
// goroutines.
type Reassembler struct {
	log     logrus.FieldLogger
	cfg     Config
	pending *PendingTable
	stats   *Stats

	outstanding atomic.Int64
	started     atomic.Bool
}

// New creates a Reassembler.
func New(log logrus.FieldLogger, cfg Config) *Reassembler {
	cfg.ApplyDefaults()

	return &Reassembler{
		log:     log.WithField("component", "reassembler"),
		cfg:     cfg,
		pending: NewPendingTable(),
		stats:   NewStats(),
	}
}

// Stats returns the reassembler's outcome counters.
func (r *Reassembler) Stats() *Stats {
	return r.stats
}

// Pending returns the number of fragments awaiting a resumed line.
func (r *Reassembler) Pending() int {
	return int(r.outstanding.Load())
}

// Feed runs one line through the state machine. The second return
// value reports whether the line produced output.
func (r *Reassembler) Feed(raw string) (Output, bool) {
	line := Classify(raw)

	switch line.Kind {
	case KindInitiated:
		r.pending.Push(Fragment{
			Tag:    line.Tag,
			Call:   line.Call,
			Prefix: line.Text,
		})
		r.outstanding.Add(1)
		r.stats.Record(OutcomeBuffered)

		return Output{}, false

	case KindResumed:
		frag, ok := r.pending.Take(line.Tag, line.Call)
		if !ok {
			r.stats.Record(OutcomeOrphanResume)
			r.log.WithFields(logrus.Fields{
				"call": line.Call,
				"tag":  line.Tag.String(),
			}).Debug("Dropping resumed line without pending fragment")

			return Output{}, false
		}

		r.outstanding.Add(-1)
		r.stats.Record(OutcomeMerged)

		return Output{
			Outcome: OutcomeMerged,
			Tag:     line.Tag,
			Call:    line.Call,
			Text:    frag.Prefix + line.Text,
		}, true

	case KindSpawn:
		r.stats.Record(OutcomeSpawn)

		return Output{Outcome: OutcomeSpawn, Tag: line.Tag, Text: raw}, true
	}

	outcome := OutcomePassthrough
	if line.Malformed {
		outcome = OutcomeMalformed
	}

	r.stats.Record(outcome)

	return Output{Outcome: outcome, Tag: line.Tag, Text: raw}, true
}

// Finish marks the end of the stream. Fragments still pending are
// abandoned and returned in the order they were initiated; nothing is
// emitted for them.
func (r *Reassembler) Finish() []Fragment {
	dangling := r.pending.Drain()
	if len(dangling) == 0 {
		return nil
	}

	r.outstanding.Store(0)
	r.stats.RecordN(OutcomeDangling, uint64(len(dangling)))

	r.log.WithField("count", len(dangling)).
		Debug("Discarding unfinished calls at end of stream")

	return dangling
}

// Process lazily reassembles every line read from in. The sequence
// ends at end of input, on a read error (yielded once as a non-nil
// error) or when ctx is done. A Reassembler processes one stream only.
func (r *Reassembler) Process(
	ctx context.Context,
	in io.Reader,
) iter.Seq2[Output, error] {
	return func(yield func(Output, error) bool) {
		if !r.started.CompareAndSwap(false, true) {
			yield(Output{}, ErrAlreadyProcessed)

			return
		}

		initial := min(64*1024, r.cfg.MaxLineBytes)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, initial), r.cfg.MaxLineBytes)
		scanner.Split(scanRawLines)

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(Output{}, err)

				return
			}

			out, ok := r.Feed(scanner.Text())
			if !ok {
				continue
			}

			if !yield(out, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(Output{}, fmt.Errorf("reading trace input: %w", err))

			return
		}

		r.Finish()
	}
}

// scanRawLines splits on '\n' like bufio.ScanLines but keeps a
// trailing '\r', so pass-through lines are emitted byte for byte.
func scanRawLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
