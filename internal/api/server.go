package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/metrics"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/pipeline"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
)

// statusSource reports the orchestrator's current stage and last cycle.
type statusSource interface {
	Status() pipeline.Status
}

// cacheSizer reports the translation cache entry count for the stats payload.
type cacheSizer interface {
	Size(ctx context.Context) (int64, error)
}

// Config controls the HTTP surface.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the delivery ledger and the orchestrator.
type Server struct {
	router chi.Router
	store  notices.DeliveryStore
	status statusSource
	cache  cacheSizer
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The API key guard
// covers the /api tree only; probe and scrape endpoints stay open.
func NewServer(
	store notices.DeliveryStore,
	status statusSource,
	cache cacheSizer,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		store:  store,
		status: status,
		cache:  cache,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(s.apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/notices", s.listNotices)
		r.Get("/stats", s.stats)
		r.Get("/status", s.cycleStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz probes the delivery ledger; the service is not ready to suppress
// duplicates without it.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.DeliveredCount(r.Context()); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "delivery store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	recs, err := s.store.RecentDeliveries(r.Context(), limit)
	if err != nil {
		s.logger.Error("list deliveries failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if recs == nil {
		recs = []notices.DeliveryRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"notices": recs,
		"count":   len(recs),
	})
}

type statsResponse struct {
	DeliveredTotal          int64                `json:"delivered_total"`
	TranslationCacheEntries int64                `json:"translation_cache_entries"`
	Stage                   notices.Stage        `json:"stage"`
	LastCycle               *notices.CycleReport `json:"last_cycle,omitempty"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	delivered, err := s.store.DeliveredCount(r.Context())
	if err != nil {
		s.logger.Error("count deliveries failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read delivery stats")
		return
	}

	resp := statsResponse{DeliveredTotal: delivered}
	if s.cache != nil {
		size, err := s.cache.Size(r.Context())
		if err != nil {
			s.logger.Warn("translation cache size failed", zap.Error(err))
		} else {
			resp.TranslationCacheEntries = size
		}
	}
	if s.status != nil {
		st := s.status.Status()
		resp.Stage = st.Stage
		resp.LastCycle = st.LastReport
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cycleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "orchestrator not running")
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Status())
}
