package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.CacheHit("result")
	m.CacheHit("result")
	m.CacheMiss("expression")
	m.Operation("get", "OK", time.Millisecond)
	m.Resolution("resolved")
	m.Flush(3, 0, 10*time.Millisecond)
	m.Flush(0, 2, 10*time.Millisecond)
	m.FlushRetry()
	m.SetDirty(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("expression")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("get", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushes.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.flushedRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushRetries))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.dirtyEntries))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit("result")
		m.CacheMiss("result")
		m.Operation("get", "OK", 0)
		m.Resolution("resolved")
		m.Flush(1, 0, 0)
		m.FlushRetry()
		m.SetDirty(1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheHit("result")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `varkeep_cache_hits_total{tier="result"} 1`)
}
