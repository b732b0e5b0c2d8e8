package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("online")
	m.ObserveAttempt("ok")
	m.ObserveOnlineSuccess(time.Now())
	m.ObserveClassification(3, map[string]int{"invalid_day": 1})
	m.ObservePruned("age", 2)
	m.ObserveFetchSkipped()
	assert.Nil(t, m.Registry())
}

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveFetch("cache")
	m.ObserveFetch("cache")
	m.ObserveAttempt("transport_error")
	m.ObservePruned("count", 3)
	m.ObservePruned("age", 0)
	m.ObserveClassification(5, map[string]int{"invalid_time": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("transport_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.archivePruned.WithLabelValues("count")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.scheduleEntries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scheduleDropped.WithLabelValues("invalid_time")))

	// A later pass without drops clears the previous tallies.
	m.ObserveClassification(5, nil)
	assert.Equal(t, 0, testutil.CollectAndCount(m.scheduleDropped))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveFetch("online")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `agendalive_weather_fetch_total{source="online"} 1`))
}
