package sink

import (
	"time"

	"github.com/ethpandaops/stracekit/internal/strace"
)

// Record is one emitted trace line with its provenance.
type Record struct {
	RunID     string    `json:"run_id"`
	Host      string    `json:"host,omitempty"`
	Source    string    `json:"source"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	PID       string    `json:"pid,omitempty"`
	Call      string    `json:"call,omitempty"`
	Line      string    `json:"line"`
}

// Stamper numbers records of one run.
type Stamper struct {
	RunID  string
	Host   string
	Source string

	seq uint64
	now func() time.Time
}

// NewStamper creates a Stamper for one reassembly run.
func NewStamper(runID, host, source string) *Stamper {
	return &Stamper{
		RunID:  runID,
		Host:   host,
		Source: source,
		now:    time.Now,
	}
}

// Stamp converts an emitted line into the next Record.
func (s *Stamper) Stamp(out strace.Output) Record {
	s.seq++

	return Record{
		RunID:     s.RunID,
		Host:      s.Host,
		Source:    s.Source,
		Seq:       s.seq,
		Timestamp: s.now().UTC(),
		Outcome:   out.Outcome.String(),
		PID:       out.Tag.PID,
		Call:      out.Call,
		Line:      out.Text,
	}
}
