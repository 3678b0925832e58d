package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTickFeedsSeriesAndSnapshot(t *testing.T) {
	c := New()
	c.RecordTick(ResultCommitted, 20*time.Millisecond)
	c.RecordTick(ResultCommitted, 40*time.Millisecond)
	c.RecordTick(ResultContended, 0)
	c.RecordTick(ResultSkipped, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ticks.WithLabelValues(ResultCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues(ResultContended)))

	tick := c.Snapshot()["tick"].(map[string]interface{})
	assert.Equal(t, int64(2), tick["count"])
	assert.Equal(t, int64(1), tick["contended"])
	assert.InDelta(t, 40.0, tick["max_latency_ms"], 0.001)
	assert.InDelta(t, 30.0, tick["avg_latency_ms"], 0.001)
}

func TestRecordCommitCountsErrors(t *testing.T) {
	c := New()
	c.RecordCommit(time.Millisecond, nil)
	c.RecordCommit(time.Millisecond, errors.New("stale"))

	commits := c.Snapshot()["commits"].(map[string]interface{})
	assert.Equal(t, int64(2), commits["count"])
	assert.Equal(t, int64(1), commits["errors"])
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commitErrors))
}

func TestHandlerExposesVaultSeries(t *testing.T) {
	c := New()
	c.RecordEvent("INCIDENT_SPAWNED")
	c.RecordWSConnection(1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `vault_events_total{type="INCIDENT_SPAWNED"} 1`))
	assert.True(t, strings.Contains(body, "vault_ws_connections 1"))
}
