package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"agendalive/internal/config"
	"agendalive/internal/hours"
	"agendalive/internal/ics"
	appLog "agendalive/internal/log"
	"agendalive/internal/metrics"
	"agendalive/internal/model"
	"agendalive/internal/schedule"
)

// Server exposes the board state over HTTP.
//
//	GET /health        liveness, never authenticated
//	GET /api/now       current/upcoming cards and opening hours
//	GET /api/weather   latest weather snapshot
//	GET /schedule.ics  the weekly schedule as an iCalendar feed
//	GET /metrics       Prometheus exposition
type Server struct {
	cfg     *config.Config
	board   *Board
	store   *schedule.Store
	metrics *metrics.Metrics
	loc     *time.Location
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server. store and m may be nil.
func NewServer(cfg *config.Config, board *Board, store *schedule.Store, m *metrics.Metrics) *Server {
	if board == nil {
		board = NewBoard()
	}
	if store == nil {
		store = schedule.NewStore()
	}
	s := &Server{
		cfg:     cfg,
		board:   board,
		store:   store,
		metrics: m,
		loc:     resolveLocationOrLocal(cfg.Timezone),
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// SetClock overrides the wall clock used for opening hours and the feed anchor.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password leaves auth off.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="agendalive", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/now", getOnly(s.handleNow))
	s.mux.HandleFunc("/api/weather", getOnly(s.handleWeather))
	s.mux.HandleFunc("/schedule.ics", getOnly(s.handleFeed))
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// cardDTO is one schedule card as rendered on the board.
type cardDTO struct {
	Activity   string  `json:"activity"`
	Instructor string  `json:"instructor,omitempty"`
	Location   string  `json:"location,omitempty"`
	Day        string  `json:"day"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Progress   float64 `json:"progress"`
	MinorOnly  bool    `json:"minor_only"`
}

// nowResponse is the JSON response shape for /api/now.
type nowResponse struct {
	Reference time.Time      `json:"reference"`
	WindowEnd time.Time      `json:"window_end"`
	Current   []cardDTO      `json:"current"`
	Upcoming  []cardDTO      `json:"upcoming"`
	Dropped   map[string]int `json:"dropped,omitempty"`
	Total     int            `json:"total"`
	Hours     []hours.Status `json:"hours"`
}

// handleNow returns the last classification published by the scheduler.
// Before the first tick it answers 503.
func (s *Server) handleNow(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.board.Schedule()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "schedule not ready")
		return
	}

	resp := nowResponse{
		Reference: res.Reference.In(s.loc),
		WindowEnd: res.WindowEnd.In(s.loc),
		Current:   s.cards(res.Current),
		Upcoming:  s.cards(res.Upcoming),
		Total:     res.Total,
		Hours:     hours.StatusAll(s.cfg.Hours, s.now().In(s.loc)),
	}
	for reason, n := range res.Dropped {
		if reason == model.ReasonOK || n == 0 {
			continue
		}
		if resp.Dropped == nil {
			resp.Dropped = make(map[string]int)
		}
		resp.Dropped[string(reason)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cards(in []model.ClassifiedEntry) []cardDTO {
	out := make([]cardDTO, 0, len(in))
	for _, c := range in {
		out = append(out, cardDTO{
			Activity:   c.Entry.Activity,
			Instructor: c.Entry.Instructor,
			Location:   c.Entry.Location,
			Day:        c.Entry.Day,
			Start:      c.Start.In(s.loc).Format("15:04"),
			End:        c.End.In(s.loc).Format("15:04"),
			Progress:   c.Progress,
			MinorOnly:  c.Entry.MinorOnly(),
		})
	}
	return out
}

// weatherResponse is the snapshot plus its rendered texts.
type weatherResponse struct {
	model.WeatherSnapshot
	Temperature  string `json:"temperature"`
	OfflineSince string `json:"offline_since,omitempty"`
}

func (s *Server) handleWeather(w http.ResponseWriter, _ *http.Request) {
	snap := s.board.Weather()
	resp := weatherResponse{WeatherSnapshot: snap, Temperature: snap.TemperatureText()}
	if since, ok := snap.OfflineSince(); ok {
		resp.OfflineSince = since.In(s.loc).Format("15:04")
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeed renders the store as weekly recurring VEVENTs anchored at today.
func (s *Server) handleFeed(w http.ResponseWriter, _ *http.Request) {
	body, err := ics.BuildFeed(s.store.Entries(), s.now().In(s.loc), s.loc)
	if err != nil {
		appLog.Error("schedule feed build failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build feed")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
