package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/graph"
	"github.com/leesh5000/picktrend/internal/jobs"
	"github.com/leesh5000/picktrend/internal/matcher"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// KeywordStore is the ingestion side of the persistent store.
type KeywordStore interface {
	UpsertKeyword(ctx context.Context, k trend.Keyword) (trend.Keyword, error)
	GetKeyword(ctx context.Context, id int64) (trend.Keyword, error)
	DeactivateKeyword(ctx context.Context, id int64) error
	RecordMetric(ctx context.Context, m trend.Metric) (trend.Metric, error)
}

// Leaderboards reads a stored period; both the generator and the cache serve it.
type Leaderboards interface {
	Leaderboard(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, []trend.RankingEntry, error)
}

// RelatedFinder answers "what else is in this keyword's cluster".
type RelatedFinder interface {
	Related(ctx context.Context, keywordID int64, limit int) ([]graph.Related, error)
}

// RunLookup exposes tracked job runs.
type RunLookup interface {
	Get(ctx context.Context, runID string) (jobs.Run, error)
	Recent(ctx context.Context, n int64) ([]jobs.Event, error)
}

// Pinger is a dependency probed by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store      KeywordStore
	clusters   *cluster.Manager
	clusterCfg cluster.Config
	matcher    *matcher.Matcher
	boards     Leaderboards
	runner     *jobs.Runner
	loc        *time.Location
	now        func() time.Time

	related RelatedFinder
	runs    RunLookup
	checks  map[string]Pinger
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	store KeywordStore,
	clusters *cluster.Manager,
	clusterCfg cluster.Config,
	m *matcher.Matcher,
	boards Leaderboards,
	runner *jobs.Runner,
	loc *time.Location,
	logger *zap.Logger,
) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:      store,
		clusters:   clusters,
		clusterCfg: clusterCfg,
		matcher:    m,
		boards:     boards,
		runner:     runner,
		loc:        loc,
		now:        time.Now,
		checks:     make(map[string]Pinger),
		logger:     logger.With(zap.String("component", "api")),
	}
}

// SetRelated enables the related-keywords endpoint.
func (h *Handler) SetRelated(r RelatedFinder) { h.related = r }

// SetRuns enables the job run endpoints.
func (h *Handler) SetRuns(r RunLookup) { h.runs = r }

// AddHealthCheck registers a dependency probed by /api/health.
func (h *Handler) AddHealthCheck(name string, p Pinger) { h.checks[name] = p }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/rankings/{kind}", h.getRanking)
		r.Get("/clusters/scores", h.listClusterScores)
		r.Get("/clusters/{id}/score", h.getClusterScore)

		// Job triggers
		r.Post("/jobs/{name}", h.runJob)
		r.Get("/jobs/runs/{runID}", h.getJobRun)
		r.Get("/jobs/events", h.listJobEvents)

		// Ingestion
		r.Post("/keywords", h.createKeyword)
		r.Delete("/keywords/{id}", h.deactivateKeyword)
		r.Post("/keywords/{id}/metrics", h.recordMetric)
		r.Post("/keywords/{id}/match", h.matchKeyword)
		r.Get("/keywords/{id}/related", h.relatedKeywords)
		r.Get("/products/match", h.findProducts)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]interface{}{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// queryInt reads a positive integer query parameter, def when absent.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
