package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"agendalive/internal/cache"
	"agendalive/internal/config"
	appLog "agendalive/internal/log"
	"agendalive/internal/metrics"
	"agendalive/internal/model"
	"agendalive/internal/schedule"
	"agendalive/internal/scheduler"
	"agendalive/internal/weather"
	"agendalive/internal/web"
)

const version = "1.0.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	debug      bool
}

// app bundles the wired components.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	metrics  *metrics.Metrics
	store    *schedule.Store
	source   *schedule.FileSource
	classify *schedule.Classifier
	cache    *cache.Store
	weather  *weather.Pipeline
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("agendalive starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Warn("environment overrides partially applied", "err", err.Error())
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone; using local", err, "timezone", conf.Timezone)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"schedule_path", conf.Schedule.Path,
		"cache_dir", conf.Cache.Dir,
		"weather_enabled", conf.Weather.IsEnabled(),
		"weather_label", conf.Weather.Label,
		"refresh", conf.Weather.RefreshInterval,
		"venues", len(conf.Hours),
		"once", flags.once,
	)

	a := wire(conf, loc)

	if flags.once {
		if err := a.runOnce(context.Background()); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.serve(ctx); err != nil {
		appLog.Error("agendalive stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("agendalive exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional dotenv file with AGENDALIVE_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the schedule, fetch weather once, print the board as JSON and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func wire(conf *config.Config, loc *time.Location) *app {
	m := metrics.New()

	store := schedule.NewStore()
	classifier := schedule.NewClassifier()
	classifier.Lookahead = conf.Schedule.Lookahead
	classifier.Cap = conf.Schedule.MaxCards
	classifier.UpcomingFloor = conf.Schedule.UpcomingFloor
	classifier.Metrics = m

	cs := cache.New(conf.Cache.Dir)
	cs.ArchiveKeep = conf.Cache.ArchiveKeep
	cs.ArchiveMaxAge = conf.Cache.ArchiveMaxAge
	cs.Location = loc
	cs.Metrics = m

	a := &app{
		cfg:      conf,
		loc:      loc,
		metrics:  m,
		store:    store,
		source:   schedule.NewFileSource(conf.Schedule.Path, store, loc),
		classify: classifier,
		cache:    cs,
	}
	if conf.Weather.IsEnabled() {
		w := conf.Weather
		a.weather = weather.NewPipeline(weather.Options{
			Endpoint:   w.Endpoint,
			UserAgent:  w.UserAgent,
			RetryDelay: w.RetryDelay,
			Client: weather.ClientOptions{
				Timeout:  w.Timeout,
				CABundle: w.CABundle,
				Proxy:    w.Proxy,
			},
			BreakerFailures: w.Breaker.MaxFailures,
			BreakerCooldown: w.Breaker.Cooldown,
			Location:        loc,
		}, cs, m)
	}
	return a
}

// onceOutput is what -once prints.
type onceOutput struct {
	Schedule model.ClassificationResult `json:"schedule"`
	Weather  model.WeatherSnapshot      `json:"weather"`
}

func (a *app) runOnce(ctx context.Context) error {
	if !a.source.Poll() && a.store.Len() == 0 {
		appLog.Warn("no schedule loaded", "path", a.cfg.Schedule.Path)
	}
	now := time.Now().In(a.loc)
	out := onceOutput{
		Schedule: a.classify.Classify(a.store.Entries(), now),
		Weather:  model.NoWeather(),
	}
	if a.weather != nil {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		out.Weather = a.weather.Fetch(ctx, a.cfg.Weather.Location())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (a *app) serve(ctx context.Context) error {
	board := web.NewBoard()

	deps := scheduler.Deps{
		Store:        a.store,
		Classifier:   a.classify,
		Source:       a.source,
		Renderer:     board,
		Housekeepers: []scheduler.Housekeeper{a.cache},
		Metrics:      a.metrics,
	}
	if a.weather != nil {
		deps.Fetcher = a.weather
	}
	sched := scheduler.New(scheduler.Config{
		Tick:           a.cfg.Scheduler.Tick,
		FetchEvery:     a.cfg.Weather.RefreshInterval,
		HousekeepEvery: a.cfg.Scheduler.HousekeepingInterval,
		Location:       a.cfg.Weather.Location(),
		Zone:           a.loc,
	}, deps)

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           web.NewServer(a.cfg, board, a.store, a.metrics).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+a.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		appLog.Error("scheduler stop failed", err)
	}
	return serveErr
}
