package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendalive/internal/cache"
	"agendalive/internal/metrics"
	"agendalive/internal/model"
)

// Wednesday 09:00 UTC.
var now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

const fixture = `{
  "type": "Feature",
  "properties": {
    "timeseries": [
      {"time": "2026-10-14T09:00:00Z", "data": {
        "instant": {"details": {"air_temperature": 17.6}},
        "next_1_hours": {"summary": {"symbol_code": "lightrainshowers_day"}},
        "next_6_hours": {"summary": {"symbol_code": "cloudy"}}}},
      {"time": "2026-10-14T21:00:00Z", "data": {"instant": {"details": {"air_temperature": 30}}}},
      {"time": "2026-10-15T00:00:00Z", "data": {"instant": {"details": {"air_temperature": 11}}}},
      {"time": "2026-10-15T12:00:00Z", "data": {"instant": {"details": {"air_temperature": 19.4}}}},
      {"time": "2026-10-15T23:00:00Z", "data": {"instant": {"details": {"air_temperature": 14}}}},
      {"time": "2026-10-16T00:00:00Z", "data": {"instant": {"details": {"air_temperature": -5}}}}
    ]
  }
}`

var lisbon = model.Location{Label: "Lisbon", Latitude: 38.7223, Longitude: -9.13934}

func newPipeline(t *testing.T, endpoint string, opts Options) (*Pipeline, *cache.Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	store := cache.New(t.TempDir())
	store.Location = time.UTC
	store.SetClock(func() time.Time { return now })

	opts.Endpoint = endpoint
	opts.Location = time.UTC
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	p := NewPipeline(opts, store, m)
	p.SetClock(func() time.Time { return now })
	return p, store, m
}

func TestDayPart(t *testing.T) {
	assert.Equal(t, "evening", DayPart(5))
	assert.Equal(t, "morning", DayPart(6))
	assert.Equal(t, "morning", DayPart(11))
	assert.Equal(t, "afternoon", DayPart(12))
	assert.Equal(t, "afternoon", DayPart(17))
	assert.Equal(t, "evening", DayPart(18))
	assert.Equal(t, "evening", DayPart(0))
}

func TestHumanizeAndIcon(t *testing.T) {
	cases := []struct {
		code, label, icon string
	}{
		{"", model.NoDataLabel, model.DefaultIcon},
		{"heavyrainandthunder", "Storm", "storm"},
		{"lightsnowshowers_night", "Snow", "snowflake"},
		{"heavyrainshowers_day", "Heavy rain", "rainy-day"},
		{"lightrain", "Light rain", "rainy-day"},
		{"sleet", "Rain", "rainy-day"},
		{"rain", "Rain", "rainy-day"},
		{"partlycloudy_day", "Partly cloudy", "cloudy"},
		{"cloudy", "Cloudy", "clouds"},
		{"clearsky_day", "Clear sky", "sun"},
		{"fair_night", "Clear sky", "sun"},
		{"fog", "Unsettled", model.DefaultIcon},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.label, Humanize(tc.code), tc.code)
		assert.Equal(t, tc.icon, Icon(tc.code), tc.code)
	}
}

func TestSummarize(t *testing.T) {
	snap, err := Summarize([]byte(fixture), now)
	require.NoError(t, err)

	assert.True(t, snap.OK)
	require.NotNil(t, snap.TemperatureC)
	assert.Equal(t, 18, *snap.TemperatureC)
	assert.Equal(t, "lightrainshowers_day", snap.ConditionCode)
	assert.Equal(t, "Today (morning): Light rain", snap.TodayLabel)
	// Only points on 2026-10-15 count.
	assert.Equal(t, "Tomorrow: 11–19°C", snap.TomorrowLabel)
	assert.Equal(t, "rainy-day", snap.Icon)
}

func TestSummarizeFallsBackToSixHourSymbol(t *testing.T) {
	body := `{"properties":{"timeseries":[{"time":"2026-10-14T09:00:00Z","data":{"next_6_hours":{"summary":{"symbol_code":"clearsky_day"}}}}]}}`
	snap, err := Summarize([]byte(body), now.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, snap.TemperatureC)
	assert.Equal(t, "Today (afternoon): Clear sky", snap.TodayLabel)
	assert.Equal(t, model.TomorrowPlaceholder, snap.TomorrowLabel)
	assert.Equal(t, model.TemperaturePlaceholder, snap.TemperatureText())
}

func TestSummarizeEmptySeries(t *testing.T) {
	snap, err := Summarize([]byte(`{"properties":{"timeseries":[]}}`), now)
	require.NoError(t, err)
	assert.Equal(t, "Today (morning): No data", snap.TodayLabel)
	assert.Equal(t, model.DefaultIcon, snap.Icon)
}

func TestSummarizeRejectsNonObject(t *testing.T) {
	_, err := Summarize([]byte(`[1,2]`), now)
	require.Error(t, err)
	_, err = Summarize([]byte(`{"properties":`), now)
	require.Error(t, err)
}

func TestFetchOnlineWritesCache(t *testing.T) {
	var gotUA, gotAccept, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	p, store, m := newPipeline(t, srv.URL, Options{UserAgent: "kiosk-test/1.0"})
	snap := p.Fetch(context.Background(), lisbon)

	assert.Equal(t, model.SourceOnline, snap.Source)
	assert.True(t, snap.OK)
	assert.Equal(t, "Lisbon", snap.Label)
	require.NotNil(t, snap.FetchedAt)
	assert.True(t, snap.FetchedAt.Equal(now))
	_, offline := snap.OfflineSince()
	assert.False(t, offline)

	assert.Equal(t, "kiosk-test/1.0", gotUA)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "lat=38.7223&lon=-9.1393", gotQuery)

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, now.Unix(), rec.FetchedAt.Unix())
	assert.JSONEq(t, fixture, string(rec.Payload))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `agendalive_weather_fetch_total{source="online"} 1`)
	assert.Contains(t, rr.Body.String(), `agendalive_weather_attempts_total{result="ok"} 1`)
}

func TestFetchStatusErrorUsesCacheWithoutRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, store, _ := newPipeline(t, srv.URL, Options{})
	cachedAt := now.Add(-3 * time.Hour)
	require.NoError(t, store.Write(cache.Record{FetchedAt: cachedAt, Payload: []byte(fixture), Label: "Lisbon"}))

	snap := p.Fetch(context.Background(), lisbon)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, model.SourceCache, snap.Source)
	assert.True(t, snap.OK)
	assert.Equal(t, "Today (morning): Light rain", snap.TodayLabel)
	since, offline := snap.OfflineSince()
	require.True(t, offline)
	assert.Equal(t, cachedAt.Unix(), since.Unix())

	// The failure path never touches storage.
	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, cachedAt.Unix(), rec.FetchedAt.Unix())
}

func TestFetchTransportErrorRetriesThenPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, store, _ := newPipeline(t, url, Options{})
	var attempts int32
	p.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return http.DefaultTransport.RoundTrip(r)
	})})

	snap := p.Fetch(context.Background(), lisbon)

	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.False(t, snap.OK)
	assert.Equal(t, model.SourceCache, snap.Source)
	assert.Equal(t, model.NoDataLabel, snap.TodayLabel)
	assert.Equal(t, model.TomorrowPlaceholder, snap.TomorrowLabel)
	assert.Equal(t, model.TemperaturePlaceholder, snap.TemperatureText())
	assert.Nil(t, snap.FetchedAt)

	_, ok := store.Read()
	assert.False(t, ok)
}

func TestFetchBadPayloadFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	defer srv.Close()

	p, store, _ := newPipeline(t, srv.URL, Options{})
	snap := p.Fetch(context.Background(), lisbon)

	assert.False(t, snap.OK)
	_, ok := store.Read()
	assert.False(t, ok)
}

func TestBreakerOpensAndSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, store, _ := newPipeline(t, srv.URL, Options{BreakerFailures: 2, BreakerCooldown: time.Hour})
	require.NoError(t, store.Write(cache.Record{FetchedAt: now.Add(-time.Hour), Payload: []byte(fixture)}))

	p.Fetch(context.Background(), lisbon)
	p.Fetch(context.Background(), lisbon)
	assert.Equal(t, gobreaker.StateOpen, p.BreakerState())

	snap := p.Fetch(context.Background(), lisbon)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, model.SourceCache, snap.Source)
	assert.True(t, snap.OK)
}

func TestRequestURLKeepsExistingQuery(t *testing.T) {
	p := NewPipeline(Options{Endpoint: "https://example.test/forecast?altitude=10"}, nil, nil)
	assert.Equal(t, "https://example.test/forecast?altitude=10&lat=1.0000&lon=2.5000", p.RequestURL(model.Location{Latitude: 1, Longitude: 2.5}))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
