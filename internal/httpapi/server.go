// Package httpapi is the ambient HTTP surface: liveness, readiness, and
// Prometheus metrics only. Alert ingestion is a separate concern and lives
// with the collector/gateway wiring, not this package.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Checker reports whether a dependency is ready to serve traffic. Readiness
// probes fan out over every registered Checker; any failure fails the probe.
type Checker func(ctx context.Context) error

// Server runs the health/readiness server and the metrics server as two
// independent http.Server instances on their own ports, so a metrics
// scraper outage never affects kubelet's liveness probe and vice versa.
type Server struct {
	logger *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker

	health *http.Server
	metric *http.Server
}

// New builds a Server listening on healthAddr for /healthz and /readyz and
// on metricsAddr for /metrics.
func New(healthAddr, metricsAddr string, logger *zap.Logger) *Server {
	s := &Server{
		logger:   logger,
		checkers: make(map[string]Checker),
	}

	healthRouter := chi.NewRouter()
	healthRouter.Use(middleware.Recoverer)
	healthRouter.Get("/healthz", s.HandleLiveness)
	healthRouter.Get("/readyz", s.HandleReadiness)
	s.health = &http.Server{
		Addr:         healthAddr,
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Use(middleware.Recoverer)
	metricsRouter.Handle("/metrics", promhttp.Handler())
	s.metric = &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	return s
}

// RegisterChecker adds a readiness dependency check under name (e.g.
// "postgres", "redis"). /readyz fails as soon as any registered checker
// errors.
func (s *Server) RegisterChecker(name string, check Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = check
}

// Start launches both servers in the background and stops them when ctx is
// canceled.
func (s *Server) Start(ctx context.Context) {
	go s.serve(ctx, s.health, "health")
	go s.serve(ctx, s.metric, "metrics")
}

func (s *Server) serve(ctx context.Context, srv *http.Server, name string) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Warn("http server shutdown failed", zap.String("server", name), zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("http server listening", zap.String("server", name), zap.String("addr", srv.Addr))
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		if s.logger != nil {
			s.logger.Error("http server stopped unexpectedly", zap.String("server", name), zap.Error(err))
		}
	}
}

// HandleLiveness answers /healthz: the process is up and the event loop is
// responsive. It never consults dependencies.
func (s *Server) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadiness answers /readyz: every registered Checker must succeed.
func (s *Server) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range checkers {
		if err := check(ctx); err != nil {
			if s.logger != nil {
				s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + name))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
