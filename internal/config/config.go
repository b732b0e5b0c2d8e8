package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agendalive/internal/hours"
	"agendalive/internal/model"
)

// DefaultPath is used when -config is not given.
const DefaultPath = "/etc/agendalive/config.yaml"

// EnvPrefix namespaces environment overrides, e.g. AGENDALIVE_LISTEN.
const EnvPrefix = "AGENDALIVE_"

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ScheduleConfig points at the weekly schedule and tunes classification.
type ScheduleConfig struct {
	// Path is a .yaml/.yml or .ics file, reloaded when it changes.
	Path string `yaml:"path" json:"path"`
	// Lookahead bounds the upcoming window.
	Lookahead time.Duration `yaml:"lookahead" json:"lookahead"`
	// MaxCards caps both the current and upcoming lists.
	MaxCards int `yaml:"max_cards" json:"max_cards"`
	// UpcomingFloor is the minimum progress shown on upcoming cards.
	UpcomingFloor float64 `yaml:"upcoming_floor" json:"upcoming_floor"`
}

// BreakerConfig controls the forecast circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" json:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown" json:"cooldown"`
}

// WeatherConfig describes the forecast source and location.
type WeatherConfig struct {
	// Enabled defaults to true when omitted.
	Enabled         *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Label           string        `yaml:"label" json:"label"`
	Latitude        float64       `yaml:"latitude" json:"latitude"`
	Longitude       float64       `yaml:"longitude" json:"longitude"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	CABundle        string        `yaml:"ca_bundle,omitempty" json:"ca_bundle,omitempty"`
	Proxy           string        `yaml:"proxy,omitempty" json:"proxy,omitempty"`
	Breaker         BreakerConfig `yaml:"breaker" json:"breaker"`
}

// IsEnabled reports whether weather fetching is on.
func (w WeatherConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Location returns the forecast location.
func (w WeatherConfig) Location() model.Location {
	return model.Location{Label: w.Label, Latitude: w.Latitude, Longitude: w.Longitude}
}

// CacheConfig locates the weather cache and its archive retention.
type CacheConfig struct {
	Dir           string        `yaml:"dir" json:"dir"`
	ArchiveKeep   int           `yaml:"archive_keep" json:"archive_keep"`
	ArchiveMaxAge time.Duration `yaml:"archive_max_age" json:"archive_max_age"`
}

// SchedulerConfig sets the board cadence.
type SchedulerConfig struct {
	Tick                 time.Duration `yaml:"tick" json:"tick"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" json:"housekeeping_interval"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the board runs in (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Weather   WeatherConfig   `yaml:"weather" json:"weather"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Hours lists the venues on the opening-hours card.
	Hours []hours.Venue `yaml:"hours" json:"hours"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "America/Sao_Paulo",
		LogLevel: "info",
		Schedule: ScheduleConfig{
			Path: "/var/lib/agendalive/schedule.yaml",
		},
		Weather: WeatherConfig{
			Label:     "Alfenas",
			Latitude:  -21.4267,
			Longitude: -45.9470,
		},
		Cache: CacheConfig{
			Dir:           "/var/lib/agendalive/cache",
			ArchiveKeep:   10,
			ArchiveMaxAge: 7 * 24 * time.Hour,
		},
		Hours: hours.DefaultVenues(),
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}

	if c.Schedule.Lookahead <= 0 {
		c.Schedule.Lookahead = 120 * time.Minute
	}
	if c.Schedule.MaxCards <= 0 {
		c.Schedule.MaxCards = 6
	}
	if c.Schedule.UpcomingFloor <= 0 || c.Schedule.UpcomingFloor >= 1 {
		c.Schedule.UpcomingFloor = 0.02
	}

	w := &c.Weather
	if w.Endpoint == "" {
		w.Endpoint = "https://api.met.no/weatherapi/locationforecast/2.0/compact"
	}
	if w.UserAgent == "" {
		w.UserAgent = "agendalive/1.0"
	}
	if w.Timeout <= 0 {
		w.Timeout = 6 * time.Second
	}
	if w.RetryDelay <= 0 {
		w.RetryDelay = 400 * time.Millisecond
	}
	if w.RefreshInterval <= 0 {
		w.RefreshInterval = 600 * time.Second
	}
	if w.Breaker.MaxFailures == 0 {
		w.Breaker.MaxFailures = 3
	}
	if w.Breaker.Cooldown <= 0 {
		w.Breaker.Cooldown = 5 * time.Minute
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = "/var/lib/agendalive/cache"
	}
	// Zero retention values are kept; they disable the matching rule.
	if c.Cache.ArchiveKeep < 0 {
		c.Cache.ArchiveKeep = 0
	}

	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = time.Second
	}
	if c.Scheduler.HousekeepingInterval <= 0 {
		c.Scheduler.HousekeepingInterval = 24 * time.Hour
	}

	if c.Hours == nil {
		c.Hours = hours.DefaultVenues()
	}
	for i := range c.Hours {
		c.Hours[i].Rules = canonicalRules(c.Hours[i].Rules)
	}
}

// canonicalRules rekeys venue rules by canonical weekday code, dropping
// unknown days.
func canonicalRules(in map[model.Weekday]hours.Window) map[model.Weekday]hours.Window {
	out := make(map[model.Weekday]hours.Window, len(in))
	for k, v := range in {
		if wd, ok := model.ParseWeekday(string(k)); ok {
			out[wd] = v
		}
	}
	return out
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Archive retention keys that are absent take the defaults; keys present
// with 0 disable the rule.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := Config{
		Cache: CacheConfig{ArchiveKeep: 10, ArchiveMaxAge: 7 * 24 * time.Hour},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendalive-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ApplyEnv loads envFile (if it exists) into the process environment without
// overriding variables already set, then applies AGENDALIVE_* overrides:
//
//	LISTEN, TIMEZONE, SCHEDULE_PATH, CACHE_DIR, LATITUDE, LONGITUDE, LOG_LEVEL
//
// Unparsable coordinates are reported and ignored.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	strs := map[string]*string{
		"LISTEN":        &c.Listen,
		"TIMEZONE":      &c.Timezone,
		"SCHEDULE_PATH": &c.Schedule.Path,
		"CACHE_DIR":     &c.Cache.Dir,
		"LOG_LEVEL":     &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	var errs []error
	floats := map[string]*float64{
		"LATITUDE":  &c.Weather.Latitude,
		"LONGITUDE": &c.Weather.Longitude,
	}
	for key, dst := range floats {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			continue
		}
		*dst = f
	}

	c.Normalize()
	return errors.Join(errs...)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
