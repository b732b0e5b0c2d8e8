// Package scheduler drives the board: a periodic tick that reclassifies
// the schedule, hands weather fetches to a background goroutine and runs
// daily housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agendalive/internal/cache"
	appLog "agendalive/internal/log"
	"agendalive/internal/metrics"
	"agendalive/internal/model"
	"agendalive/internal/schedule"
)

const (
	DefaultTick           = time.Second
	DefaultFetchEvery     = 600 * time.Second
	DefaultHousekeepEvery = 24 * time.Hour
)

// WeatherFetcher produces a snapshot; it must not return until done.
type WeatherFetcher interface {
	Fetch(ctx context.Context, loc model.Location) model.WeatherSnapshot
}

// Renderer receives every tick's output.
type Renderer interface {
	ShowSchedule(res model.ClassificationResult)
	ShowWeather(snap model.WeatherSnapshot)
}

// Poller reloads the schedule store when its source changed.
type Poller interface {
	Poll() bool
}

// Housekeeper runs periodic storage cleanup.
type Housekeeper interface {
	Housekeeping() cache.PruneReport
}

// Config holds the scheduler's cadence.
type Config struct {
	Tick           time.Duration
	FetchEvery     time.Duration
	HousekeepEvery time.Duration
	// Location is where the forecast is requested for.
	Location model.Location
	// Zone is the board's time zone; entries are resolved against the clock
	// seen in it. nil means time.Local.
	Zone *time.Location
}

// Deps are the collaborators of a Scheduler. Source, Fetcher and
// Housekeepers are optional.
type Deps struct {
	Store        *schedule.Store
	Classifier   *schedule.Classifier
	Source       Poller
	Fetcher      WeatherFetcher
	Renderer     Renderer
	Housekeepers []Housekeeper
	Metrics      *metrics.Metrics
}

// Scheduler owns the tick. At most one tick runs at a time and at most one
// fetch is outstanding.
type Scheduler struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
	job    cron.Job
	wg     sync.WaitGroup

	// Tick-owned state. pending is non-nil while a fetch is in flight.
	tickMu        sync.Mutex
	pending       chan model.WeatherSnapshot
	lastFetch     time.Time
	haveResult    bool
	lastHousekeep time.Time

	mu        sync.Mutex
	latest    model.WeatherSnapshot
	hasLatest bool
}

// New builds a scheduler. Zero durations in cfg take the defaults.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.FetchEvery <= 0 {
		cfg.FetchEvery = DefaultFetchEvery
	}
	if cfg.HousekeepEvery <= 0 {
		cfg.HousekeepEvery = DefaultHousekeepEvery
	}
	if cfg.Zone == nil {
		cfg.Zone = time.Local
	}
	if deps.Store == nil {
		deps.Store = schedule.NewStore()
	}
	if deps.Classifier == nil {
		deps.Classifier = schedule.NewClassifier()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}

	logger := appLog.CronLogger()
	s.cron = cron.New(cron.WithLogger(logger))
	s.job = cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(s.Tick))
	return s
}

// SetClock overrides the wall clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs one tick immediately (which includes the boot housekeeping) and
// then one every cfg.Tick.
func (s *Scheduler) Start() {
	s.job.Run()
	s.cron.Schedule(cron.Every(s.cfg.Tick), s.job)
	s.cron.Start()
	appLog.Info("scheduler started", "tick", s.cfg.Tick.String(), "fetch_every", s.cfg.FetchEvery.String(), "housekeep_every", s.cfg.HousekeepEvery.String(), "zone", s.cfg.Zone.String())
}

// Stop halts the tick, cancels an outstanding fetch and waits for both, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Latest returns the last published weather snapshot.
func (s *Scheduler) Latest() (model.WeatherSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Pending reports whether a fetch is in flight.
func (s *Scheduler) Pending() bool {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.pending != nil
}

// Tick runs one scheduling step. It never panics.
func (s *Scheduler) Tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("scheduler tick panic recovered", fmt.Errorf("%v", r))
		}
	}()

	now := s.now().In(s.cfg.Zone)

	if s.deps.Source != nil {
		s.deps.Source.Poll()
	}
	res := s.deps.Classifier.Classify(s.deps.Store.Entries(), now)
	if s.deps.Renderer != nil {
		s.deps.Renderer.ShowSchedule(res)
	}

	s.collect(now)
	s.maybeFetch(now)
	s.maybeHousekeep(now)
}

// collect publishes a completed fetch without blocking.
func (s *Scheduler) collect(now time.Time) {
	if s.pending == nil {
		return
	}
	select {
	case snap := <-s.pending:
		s.pending = nil
		s.lastFetch = now
		s.haveResult = true
		s.publish(snap)
	default:
	}
}

func (s *Scheduler) publish(snap model.WeatherSnapshot) {
	s.mu.Lock()
	s.latest = snap
	s.hasLatest = true
	s.mu.Unlock()

	if s.deps.Renderer != nil {
		s.deps.Renderer.ShowWeather(snap)
	}
	appLog.Debug("weather published", "source", string(snap.Source), "ok", snap.OK, "today", snap.TodayLabel)
}

func (s *Scheduler) maybeFetch(now time.Time) {
	if s.deps.Fetcher == nil {
		return
	}
	if s.haveResult && now.Sub(s.lastFetch) < s.cfg.FetchEvery {
		return
	}
	if s.pending != nil {
		// Only a due refresh counts as skipped, not the first fetch still
		// running.
		if s.haveResult {
			s.deps.Metrics.ObserveFetchSkipped()
		}
		return
	}

	ch := make(chan model.WeatherSnapshot, 1)
	s.pending = ch
	s.wg.Add(1)
	go s.runFetch(ch)
}

func (s *Scheduler) runFetch(ch chan<- model.WeatherSnapshot) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("weather fetch panic recovered", fmt.Errorf("%v", r))
			ch <- model.NoWeather()
		}
	}()
	ch <- s.deps.Fetcher.Fetch(s.ctx, s.cfg.Location)
}

func (s *Scheduler) maybeHousekeep(now time.Time) {
	if !s.lastHousekeep.IsZero() && now.Sub(s.lastHousekeep) < s.cfg.HousekeepEvery {
		return
	}
	s.lastHousekeep = now
	for _, h := range s.deps.Housekeepers {
		s.housekeep(h)
	}
}

func (s *Scheduler) housekeep(h Housekeeper) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("housekeeping panic recovered", fmt.Errorf("%v", r))
		}
	}()
	rep := h.Housekeeping()
	appLog.Debug("housekeeping done", "pruned_age", rep.ByAge, "pruned_count", rep.ByCount, "removed_tmp", rep.Temp)
}
