package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/config"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/service"
	"merchant-guard/internal/storage"
)

// Pipeline is the application surface the HTTP API drives.
type Pipeline interface {
	Ingest(ctx context.Context, draft eventlog.Draft, opts service.IngestOptions) (service.IngestResult, error)
	Rules(ctx context.Context, storeID uuid.UUID) ([]domain.Rule, error)
	Alert(ctx context.Context, id uuid.UUID) (domain.Alert, error)
	Alerts(ctx context.Context, filter storage.AlertFilter) ([]domain.Alert, error)
	Summary(ctx context.Context, storeID uuid.UUID) (storage.Summary, error)
	ActionMenu(ctx context.Context, alertID uuid.UUID) ([]alerts.Button, error)
	CreateAction(ctx context.Context, alertID uuid.UUID, actionType domain.ActionType, metadata domain.Document) (domain.Action, error)
	Actions(ctx context.Context, alertID uuid.UUID) ([]domain.Action, error)
	ResolveAlert(ctx context.Context, alertID uuid.UUID, actor string) (domain.Alert, error)
	DismissAlert(ctx context.Context, alertID uuid.UUID, actor string) (domain.Alert, error)
}

// Server exposes the pipeline over HTTP.
type Server struct {
	pipeline Pipeline
	cfg      config.ServerConfig
	logger   zerolog.Logger
}

// New constructs a Server.
func New(pipeline Pipeline, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	return &Server{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	if s.cfg.WriteTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.WriteTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/stores/{storeID}", func(r chi.Router) {
		r.Post("/events", s.handleIngest)
		r.Get("/alerts", s.handleStoreAlerts)
		r.Get("/rules", s.handleStoreRules)
		r.Get("/summary", s.handleStoreSummary)
	})
	r.Route("/alerts/{alertID}", func(r chi.Router) {
		r.Get("/", s.handleAlertGet)
		r.Get("/menu", s.handleAlertMenu)
		r.Get("/actions", s.handleActionsList)
		r.Post("/actions", s.handleActionCreate)
		r.Post("/resolve", s.handleAlertResolve)
		r.Post("/dismiss", s.handleAlertDismiss)
	})
	r.Post("/interactions", s.handleInteraction)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		evt := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
