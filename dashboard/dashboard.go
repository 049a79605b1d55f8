// Package dashboard serves read-only usage analytics over the user store:
// headline totals, a daily activity trend, the activity-type distribution,
// and per-user engagement. It never writes to the store.
package dashboard

import (
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/convo/store"
)

//go:embed index.html
var content embed.FS

// defaultActivityDays is the trend range when the request doesn't specify one.
const defaultActivityDays = 30

// maxActivityDays bounds the range so a bad query can't build a year-scale
// zero-filled series per request.
const maxActivityDays = 365

// Server is the dashboard HTTP server.
type Server struct {
	cache  *snapshotCache
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock sets a custom clock (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Server) {
		s.now = fn
		s.cache.now = fn
	}
}

// NewServer creates a dashboard over the given exporter. Snapshots are
// cached for ttl; pass 0 for the 5-minute default.
func NewServer(exp store.Exporter, ttl time.Duration, opts ...Option) *Server {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &Server{
		cache:  newSnapshotCache(exp, ttl),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the chi router with all dashboard routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/activity", s.handleActivity)
		r.Get("/distribution", s.handleDistribution)
		r.Get("/engagement", s.handleEngagement)
	})
	r.Get("/", s.handleIndex)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := content.ReadFile("index.html")
	if err != nil {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	users, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, computeTotals(users))
}

// handleActivity serves the daily trend. Query param "days" selects the
// range ending today (default 30, capped at 365).
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	days := defaultActivityDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = min(n, maxActivityDays)
	}

	users, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	to := s.now()
	from := to.AddDate(0, 0, -(days - 1))
	writeJSON(w, http.StatusOK, dailyActivity(users, from, to))
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	users, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, computeDistribution(users))
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	users, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, computeEngagement(users))
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) ([]store.User, bool) {
	users, err := s.cache.get(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "snapshot export failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	return users, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
