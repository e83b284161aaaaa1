package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sapayroll/internal/platform/config"
	"sapayroll/internal/platform/metrics"
	"sapayroll/internal/transport/http/api"
	audithandler "sapayroll/internal/transport/http/handlers/audit"
	payrollhandler "sapayroll/internal/transport/http/handlers/payroll"
	reportshandler "sapayroll/internal/transport/http/handlers/reports"
	taxtableshandler "sapayroll/internal/transport/http/handlers/taxtables"
	"sapayroll/internal/transport/http/middleware"
)

// AuditService records operator actions and serves them back.
type AuditService interface {
	payrollhandler.AuditRecorder
	audithandler.Service
}

type Deps struct {
	Payroll     payrollhandler.Service
	Reports     reportshandler.Service
	TaxYears    taxtableshandler.Lister
	Tables      taxtableshandler.Tables
	Audit       AuditService
	Idempotency payrollhandler.IdempotencyStore
	Metrics     *metrics.Collector
	Ready       func(ctx context.Context) error
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Deps) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(logger, cfg.SlogLevel()))
	router.Use(chimw.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID", "X-Total-Count", "Retry-After"},
		MaxAge:         300,
	}))
	if cfg.MetricsEnabled && deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics))
	}
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled && deps.Metrics != nil {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(deps.Metrics.Snapshot()); err != nil {
				slog.Warn("metrics encode failed", "err", err)
			}
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		r.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))

		payrollhandler.NewHandler(deps.Payroll, deps.Audit, deps.Idempotency).RegisterRoutes(r)
		reportshandler.NewHandler(deps.Reports, deps.Audit).RegisterRoutes(r)
		taxtableshandler.NewHandler(deps.TaxYears, deps.Tables).RegisterRoutes(r)
		audithandler.NewHandler(deps.Audit).RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.Fail(w, http.StatusNotFound, "not_found", "route not found", middleware.GetRequestID(r.Context()))
	})
	return router
}
