package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Line    string `json:"line"`
	Outcome string `json:"outcome"`
}

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type captured struct {
	body            []byte
	contentType     string
	contentEncoding string
	userAgent       string
	custom          string
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()

	got := &captured{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.contentType = r.Header.Get("Content-Type")
		got.contentEncoding = r.Header.Get("Content-Encoding")
		got.userAgent = r.Header.Get("User-Agent")
		got.custom = r.Header.Get("X-Trace-Host")

		got.body, _ = io.ReadAll(r.Body)

		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, got
}

func TestExporter_ExportItems(t *testing.T) {
	server, got := captureServer(t, http.StatusOK)

	exporter, err := NewExporter[testRecord](testLog(), Config{
		Enabled:     true,
		Address:     server.URL,
		Compression: CompressionGzip,
		Headers:     map[string]string{"X-Trace-Host": "db01"},
	})
	require.NoError(t, err)

	defer exporter.Shutdown(context.Background())

	err = exporter.ExportItems(context.Background(), []*testRecord{
		{Line: "close(3 ) = 0", Outcome: "merged"},
		nil,
		{Line: "getpid() = 1 <b>", Outcome: "passthrough"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-ndjson", got.contentType)
	assert.Equal(t, "gzip", got.contentEncoding)
	assert.Equal(t, "db01", got.custom)
	assert.True(t, strings.HasPrefix(got.userAgent, "stracekit/"))

	lines := strings.Split(strings.TrimSpace(string(decode(t, CompressionGzip, got.body))), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"outcome":"merged"`)
	assert.Contains(t, lines[1], `"line":"getpid() = 1 <b>"`)
}

func TestExporter_NoCompression(t *testing.T) {
	server, got := captureServer(t, http.StatusOK)

	exporter, err := NewExporter[testRecord](testLog(), Config{
		Enabled:     true,
		Address:     server.URL,
		Compression: CompressionNone,
	})
	require.NoError(t, err)

	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), []*testRecord{{Line: "x"}}))

	assert.Empty(t, got.contentEncoding)
	assert.Contains(t, string(got.body), `"line":"x"`)
}

func TestExporter_ServerError(t *testing.T) {
	server, _ := captureServer(t, http.StatusInternalServerError)

	exporter, err := NewExporter[testRecord](testLog(), Config{
		Enabled:     true,
		Address:     server.URL,
		Compression: CompressionNone,
	})
	require.NoError(t, err)

	defer exporter.Shutdown(context.Background())

	err = exporter.ExportItems(context.Background(), []*testRecord{{Line: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 500")
}

func TestExporter_EmptyBatchSendsNothing(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exporter, err := NewExporter[testRecord](testLog(), Config{
		Enabled: true,
		Address: server.URL,
	})
	require.NoError(t, err)

	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), nil))
	require.NoError(t, exporter.ExportItems(context.Background(), []*testRecord{nil}))
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewExporter_InvalidConfig(t *testing.T) {
	_, err := NewExporter[testRecord](testLog(), Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
