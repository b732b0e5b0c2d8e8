package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry with the kiosk's collectors.
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	fetchTotal      *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	lastSuccess     prometheus.Gauge
	scheduleEntries prometheus.Gauge
	scheduleDropped *prometheus.GaugeVec
	archivePruned   *prometheus.CounterVec
	ticksSkipped    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agendalive_weather_fetch_total",
			Help: "Weather fetches by the source of the returned snapshot",
		}, []string{"source"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agendalive_weather_attempts_total",
			Help: "Outbound forecast HTTP attempts by result",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agendalive_weather_last_success_timestamp_seconds",
			Help: "Unix time of the last successful online fetch",
		}),
		scheduleEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agendalive_schedule_entries",
			Help: "Schedule entries currently loaded",
		}),
		scheduleDropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agendalive_schedule_dropped",
			Help: "Entries excluded from the last classification pass by reason",
		}, []string{"reason"}),
		archivePruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agendalive_cache_archive_pruned_total",
			Help: "Archived cache files deleted by retention rule",
		}, []string{"rule"}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agendalive_fetch_launch_skipped_total",
			Help: "Eligible fetches not launched because one was still in flight",
		}),
	}

	registry.MustRegister(
		m.fetchTotal,
		m.attemptsTotal,
		m.lastSuccess,
		m.scheduleEntries,
		m.scheduleDropped,
		m.archivePruned,
		m.ticksSkipped,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFetch(source string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveAttempt(result string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOnlineSuccess(at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(at.Unix()))
}

// ObserveClassification records the loaded entry count and drop tallies.
func (m *Metrics) ObserveClassification(total int, dropped map[string]int) {
	if m == nil {
		return
	}
	m.scheduleEntries.Set(float64(total))
	m.scheduleDropped.Reset()
	for reason, n := range dropped {
		m.scheduleDropped.WithLabelValues(reason).Set(float64(n))
	}
}

func (m *Metrics) ObservePruned(rule string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.archivePruned.WithLabelValues(rule).Add(float64(n))
}

func (m *Metrics) ObserveFetchSkipped() {
	if m == nil {
		return
	}
	m.ticksSkipped.Inc()
}
