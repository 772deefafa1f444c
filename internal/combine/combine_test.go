package combine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/stracekit/internal/config"
	"github.com/ethpandaops/stracekit/internal/export"
	"github.com/ethpandaops/stracekit/internal/sink"
	"github.com/ethpandaops/stracekit/internal/source"
	"github.com/ethpandaops/stracekit/internal/strace"
)

const trace = `execve("/bin/true", ["true"], 0x7ffd /* 20 vars */) = 0
[pid 101] close(255 <unfinished ...>
[pid 102] clone(child_stack=NULL, flags=CLONE_CHILD_SETTID|SIGCHLD) = 103
[pid 101] <... close resumed> )       = 0
<... read resumed> "x", 1) = 1
[pid 104] wait4(-1,  <unfinished ...>
+++ exited with 0 +++
`

const want = `execve("/bin/true", ["true"], 0x7ffd /* 20 vars */) = 0
[pid 102] clone(child_stack=NULL, flags=CLONE_CHILD_SETTID|SIGCHLD) = 103
[pid 101] close(255  )       = 0
+++ exited with 0 +++
`

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type recordingSink struct {
	mu      sync.Mutex
	records []sink.Record
	started bool
	stopped bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Start(context.Context) error {
	s.started = true

	return nil
}

func (s *recordingSink) Stop() error {
	s.stopped = true

	return nil
}

func (s *recordingSink) HandleRecord(rec sink.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
}

func newRunner(t *testing.T, cfg *config.Config, sinks ...sink.Sink) *Runner {
	t.Helper()

	cfg.Sinks.Host = "test-host"

	health := export.NewHealthMetrics(testLog(), cfg.Health)

	return NewWithSinks(testLog(), cfg, health, sink.NewSet(testLog(), sinks...))
}

func memSource(t *testing.T, r io.Reader) *source.Source {
	t.Helper()

	src, err := source.NewReader("mem", io.NopCloser(r), source.CompressionNone)
	require.NoError(t, err)

	return src
}

func TestCombine_WritesMergedStream(t *testing.T) {
	rec := &recordingSink{}
	r := newRunner(t, config.DefaultConfig(), rec)

	var out bytes.Buffer
	require.NoError(t, r.Combine(context.Background(), memSource(t, strings.NewReader(trace)), &out))

	assert.Equal(t, want, out.String())
	assert.True(t, rec.started)
	assert.True(t, rec.stopped)

	require.Len(t, rec.records, 4)

	merged := rec.records[2]
	assert.Equal(t, "merged", merged.Outcome)
	assert.Equal(t, "101", merged.PID)
	assert.Equal(t, "close", merged.Call)
	assert.Equal(t, "[pid 101] close(255  )       = 0", merged.Line)
	assert.Equal(t, "mem", merged.Source)
	assert.Equal(t, "test-host", merged.Host)
	assert.Equal(t, uint64(3), merged.Seq)
	assert.NotEmpty(t, merged.RunID)
	assert.Equal(t, "spawn", rec.records[1].Outcome)

	assert.Equal(t, map[strace.Outcome]uint64{
		strace.OutcomePassthrough:  2,
		strace.OutcomeSpawn:        1,
		strace.OutcomeBuffered:     2,
		strace.OutcomeMerged:       1,
		strace.OutcomeOrphanResume: 1,
		strace.OutcomeDangling:     1,
	}, r.Totals())
}

func TestCombine_RecordsMetrics(t *testing.T) {
	r := newRunner(t, config.DefaultConfig())

	require.NoError(t, r.Combine(context.Background(), memSource(t, strings.NewReader(trace)), io.Discard))

	families, err := r.Health().Registry().Gather()
	require.NoError(t, err)

	got := make(map[string]float64)

	for _, mf := range families {
		if mf.GetName() != "stracekit_lines_total" {
			continue
		}

		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(1), got["merged"])
	assert.Equal(t, float64(1), got["dangling"])
	assert.Equal(t, float64(2), got["passthrough"])
}

func TestCombine_EmptyInput(t *testing.T) {
	r := newRunner(t, config.DefaultConfig())

	var out bytes.Buffer
	require.NoError(t, r.Combine(context.Background(), memSource(t, strings.NewReader("")), &out))
	assert.Empty(t, out.String())
	assert.Empty(t, r.Totals())
}

type failingReader struct {
	data []byte
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.done {
		f.done = true

		return copy(p, f.data), nil
	}

	return 0, errors.New("device went away")
}

func TestCombine_ReadErrorIsFatal(t *testing.T) {
	r := newRunner(t, config.DefaultConfig())

	var out bytes.Buffer

	err := r.Combine(context.Background(), memSource(t, &failingReader{data: []byte("one\ntwo\n")}), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading trace input")
	assert.Contains(t, err.Error(), "device went away")

	// Lines emitted before the failure are still written.
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestCombine_CancelledIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRunner(t, config.DefaultConfig())

	var out bytes.Buffer
	require.NoError(t, r.Combine(ctx, memSource(t, strings.NewReader(trace)), &out))
	assert.Empty(t, out.String())
}

type countingWriter struct {
	writes int
	buf    bytes.Buffer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.writes++

	return c.buf.Write(p)
}

func TestCombine_FlushEveryLine(t *testing.T) {
	flush := true
	cfg := config.DefaultConfig()
	cfg.Combine.FlushEveryLine = &flush

	r := newRunner(t, cfg)

	var w countingWriter
	require.NoError(t, r.Combine(context.Background(), memSource(t, strings.NewReader("a\nb\nc\n")), &w))

	assert.Equal(t, 3, w.writes)
	assert.Equal(t, "a\nb\nc\n", w.buf.String())
}

func TestCombine_BufferedForFiles(t *testing.T) {
	r := newRunner(t, config.DefaultConfig())

	var w countingWriter
	require.NoError(t, r.Combine(context.Background(), memSource(t, strings.NewReader("a\nb\nc\n")), &w))

	assert.Equal(t, 1, w.writes)
}

func TestCombine_StatsReporter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Combine.StatsInterval = time.Millisecond

	r := newRunner(t, cfg)

	pr, pw := io.Pipe()

	done := make(chan error, 1)

	go func() {
		done <- r.Combine(context.Background(), memSource(t, pr), io.Discard)
	}()

	_, err := pw.Write([]byte("close(3 <unfinished ...>\n"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)

	assert.Equal(t, map[strace.Outcome]uint64{
		strace.OutcomeBuffered: 1,
		strace.OutcomeDangling: 1,
	}, r.Totals())
}

func TestRun_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(trace), 0o644))

	r := newRunner(t, config.DefaultConfig())

	var out bytes.Buffer
	require.NoError(t, r.Run(context.Background(), path, &out))
	assert.Equal(t, want, out.String())
}

func TestRun_MissingFile(t *testing.T) {
	r := newRunner(t, config.DefaultConfig())

	err := r.Run(context.Background(), "/nonexistent/trace.txt", io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening trace file")
}
