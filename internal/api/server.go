// Package api serves sun, summary and shade-aware route queries over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/shaderoute/internal/pipeline"
	"github.com/sells-group/shaderoute/internal/route"
)

// Recorder persists answered routes against a run.
type Recorder interface {
	RecordRoutes(ctx context.Context, runID string, routes []route.Route) error
}

// Options configures a Server. A zero RateLimit disables limiting and a zero
// CacheSize disables the route cache.
type Options struct {
	RateLimit   float64
	RateBurst   int
	CacheSize   int
	CacheTTL    time.Duration
	CORSOrigins []string
}

// Server answers queries against one annotated result.
type Server struct {
	res      *pipeline.Result
	recorder Recorder
	cache    *route.Cache
	limiter  *rate.Limiter
	origins  []string
	started  time.Time
	log      *zap.Logger
}

// New creates a Server. recorder may be nil.
func New(res *pipeline.Result, recorder Recorder, opts Options) (*Server, error) {
	if res == nil || res.Evaluator == nil {
		return nil, eris.New("api: result has no evaluator")
	}
	s := &Server{
		res:      res,
		recorder: recorder,
		origins:  opts.CORSOrigins,
		started:  time.Now(),
		log:      zap.L().With(zap.String("component", "api")),
	}
	if opts.CacheSize > 0 {
		s.cache = route.NewCache(opts.CacheSize, opts.CacheTTL)
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/sun", s.handleSun)
		r.Get("/summary", s.handleSummary)
		r.Post("/route", s.handleRoute)
	})
	return r
}

// rateLimit rejects requests over the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CacheStats returns route cache statistics; zero when the cache is disabled.
func (s *Server) CacheStats() route.CacheStats {
	if s.cache == nil {
		return route.CacheStats{}
	}
	return s.cache.Stats()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
