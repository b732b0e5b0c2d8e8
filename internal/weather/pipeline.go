// Package weather fetches the forecast for the board and degrades to the
// on-disk cache, then to a placeholder snapshot, when the network fails.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"agendalive/internal/cache"
	appLog "agendalive/internal/log"
	"agendalive/internal/metrics"
	"agendalive/internal/model"
)

const (
	DefaultEndpoint   = "https://api.met.no/weatherapi/locationforecast/2.0/compact"
	DefaultUserAgent  = "agendalive/1.0"
	DefaultAttempts   = 2
	DefaultRetryDelay = 400 * time.Millisecond
	DefaultTimeout    = 6 * time.Second

	DefaultBreakerFailures = 3
	DefaultBreakerCooldown = 5 * time.Minute

	maxBodyBytes = 4 << 20
	snippetBytes = 200
)

var (
	// ErrStatus marks a non-2xx response. It is never retried.
	ErrStatus = errors.New("weather: unexpected HTTP status")
	// ErrTransport marks a failure before a status was received, or while
	// reading the body. It is retried.
	ErrTransport = errors.New("weather: transport failure")
)

// Options configures a Pipeline. Zero values take the defaults above.
type Options struct {
	Endpoint   string
	UserAgent  string
	Attempts   int
	RetryDelay time.Duration
	Client     ClientOptions

	BreakerFailures uint32
	BreakerCooldown time.Duration

	// Location is used for the day part and the tomorrow bucket.
	Location *time.Location
}

// Pipeline runs one forecast retrieval at a time and never returns an error:
// every failure turns into a cached or placeholder snapshot.
type Pipeline struct {
	endpoint   string
	userAgent  string
	attempts   int
	retryDelay time.Duration
	location   *time.Location

	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *cache.Store
	metrics *metrics.Metrics

	now func() time.Time
}

// NewPipeline builds a pipeline writing through store. store and m may be nil.
func NewPipeline(opts Options, store *cache.Store, m *metrics.Metrics) *Pipeline {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = DefaultBreakerCooldown
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Warn("weather breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Pipeline{
		endpoint:   opts.Endpoint,
		userAgent:  opts.UserAgent,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		location:   opts.Location,
		client:     NewHTTPClient(opts.Client),
		breaker:    breaker,
		cache:      store,
		metrics:    m,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// SetHTTPClient replaces the outbound client.
func (p *Pipeline) SetHTTPClient(c *http.Client) {
	p.client = c
}

// BreakerState reports the circuit breaker state.
func (p *Pipeline) BreakerState() gobreaker.State {
	return p.breaker.State()
}

func (p *Pipeline) clock() time.Time {
	return p.now().In(p.location)
}

// RequestURL returns the forecast URL for loc.
func (p *Pipeline) RequestURL(loc model.Location) string {
	sep := "?"
	if strings.Contains(p.endpoint, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%slat=%.4f&lon=%.4f", p.endpoint, sep, loc.Latitude, loc.Longitude)
}

// Fetch returns the freshest snapshot it can get for loc:
//  1. online: retrieved and decoded now, then written to the cache
//  2. cache: the last stored payload, re-summarized at the current time
//  3. model.NoWeather()
func (p *Pipeline) Fetch(ctx context.Context, loc model.Location) model.WeatherSnapshot {
	now := p.clock()
	u := p.RequestURL(loc)

	appLog.Info("weather fetch start", "label", loc.Label, "url", u)

	body, err := p.retrieve(ctx, u)
	if err == nil {
		snap, derr := Summarize(body, now)
		if derr == nil {
			fetched := now
			snap.Source = model.SourceOnline
			snap.FetchedAt = &fetched
			snap.Label = loc.Label
			p.store(body, now, loc.Label)

			p.metrics.ObserveFetch(string(model.SourceOnline))
			p.metrics.ObserveOnlineSuccess(now)
			appLog.Info("weather online ok", "label", loc.Label, "temp", snap.TemperatureText(), "symbol", snap.ConditionCode)
			return snap
		}
		err = derr
	}

	appLog.Warn("weather online fetch failed; falling back to cache", "label", loc.Label, "err", err.Error())
	return p.fromCache(loc, now)
}

func (p *Pipeline) store(body []byte, now time.Time, label string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Write(cache.Record{FetchedAt: now, Payload: body, Label: label}); err != nil {
		appLog.Error("weather cache write failed", err, "dir", p.cache.Dir)
	}
	p.cache.PruneArchive(p.cache.ArchiveMaxAge, p.cache.ArchiveKeep)
}

func (p *Pipeline) fromCache(loc model.Location, now time.Time) model.WeatherSnapshot {
	if p.cache != nil {
		if rec, ok := p.cache.Read(); ok {
			snap, err := Summarize(rec.Payload, now)
			if err == nil {
				snap.Source = model.SourceCache
				snap.Label = loc.Label
				if !rec.FetchedAt.IsZero() {
					ts := rec.FetchedAt.In(p.location)
					snap.FetchedAt = &ts
				}
				p.metrics.ObserveFetch(string(model.SourceCache))
				appLog.Info("weather fallback to cache", "label", loc.Label, "ts", rec.FetchedAt.Unix())
				return snap
			}
			appLog.Warn("weather cached payload unusable", "err", err.Error())
		}
	}

	p.metrics.ObserveFetch("none")
	appLog.Warn("weather unavailable; no usable cache", "label", loc.Label)
	snap := model.NoWeather()
	snap.Label = loc.Label
	return snap
}

// retrieve runs the bounded retry loop inside the circuit breaker, so one
// failed retrieval counts as one breaker failure.
func (p *Pipeline) retrieve(ctx context.Context, u string) ([]byte, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.retrieveWithRetry(ctx, u)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.metrics.ObserveAttempt("breaker_open")
		}
		return nil, err
	}
	body, ok := out.([]byte)
	if !ok {
		return nil, errors.New("weather: unexpected breaker result")
	}
	return body, nil
}

func (p *Pipeline) retrieveWithRetry(ctx context.Context, u string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := p.attempt(ctx, u, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !errors.Is(err, ErrTransport) || attempt == p.attempts {
			break
		}

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (p *Pipeline) attempt(ctx context.Context, u string, n int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	appLog.Debug("weather http attempt", "attempt", n, "timeout", p.client.Timeout.String())

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.ObserveAttempt("transport_error")
		appLog.Warn("weather http transport error", "attempt", n, "err", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, snippetBytes))
		p.metrics.ObserveAttempt("status_error")
		appLog.Warn("weather http status error", "attempt", n, "status", resp.StatusCode, "body", string(snippet))
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		p.metrics.ObserveAttempt("transport_error")
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	p.metrics.ObserveAttempt("ok")
	appLog.Debug("weather http ok", "attempt", n, "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}
