package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func startHealth(t *testing.T) *HealthMetrics {
	t.Helper()

	h := NewHealthMetrics(testLog(), HealthConfig{
		Enabled: true,
		Addr:    "127.0.0.1:0",
	})

	require.NoError(t, h.Start(context.Background()))

	t.Cleanup(func() {
		h.Stop()
	})

	// Give server a moment to start serving.
	time.Sleep(50 * time.Millisecond)

	return h
}

func TestHealthMetrics_StartStop(t *testing.T) {
	h := startHealth(t)
	assert.True(t, h.running.Load())
	assert.NotEmpty(t, h.Addr())
}

func TestHealthMetrics_DisabledDoesNotListen(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{Addr: "127.0.0.1:0"})

	require.NoError(t, h.Start(context.Background()))
	assert.False(t, h.running.Load())
	assert.Nil(t, h.listener)
	assert.NoError(t, h.Stop())
}

func TestHealthMetrics_CounterIncrement(t *testing.T) {
	h := startHealth(t)

	h.LinesByOutcome.WithLabelValues("merged").Add(3)
	h.LinesByOutcome.WithLabelValues("passthrough").Inc()
	h.PendingFragments.Set(5)
	h.FCHostCounters.WithLabelValues("host1", "rx_frames").Add(42)

	url := fmt.Sprintf("http://%s/metrics", h.Addr())

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, `stracekit_lines_total{outcome="merged"} 3`)
	assert.Contains(t, bodyStr, `stracekit_lines_total{outcome="passthrough"} 1`)
	assert.Contains(t, bodyStr, "stracekit_pending_fragments 5")
	assert.Contains(t, bodyStr, `stracekit_fc_host_statistic_total{host="host1",stat="rx_frames"} 42`)
}

func TestHealthMetrics_HealthzResponse(t *testing.T) {
	h := startHealth(t)

	url := fmt.Sprintf("http://%s/healthz", h.Addr())

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestHealthMetrics_StopIdempotent(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{})

	assert.NoError(t, h.Stop())
	assert.NoError(t, h.Stop())
}

func TestHealthMetrics_AddrBeforeStart(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{
		Addr: ":9999",
	})

	assert.Equal(t, ":9999", h.Addr())
}

func TestHealthMetrics_RegistryWithoutServer(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{})

	h.ZoneChecks.WithLabelValues("ok").Inc()

	families, err := h.Registry().Gather()
	require.NoError(t, err)

	var found bool

	for _, mf := range families {
		if mf.GetName() != "stracekit_zone_checks_total" {
			continue
		}

		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())

		found = true
	}

	assert.True(t, found)
}
