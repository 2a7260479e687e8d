package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quay/pipeline-results/internal/db"
	"github.com/quay/pipeline-results/internal/step"
	"github.com/quay/pipeline-results/internal/trend"
)

// Options are the step defaults applied to runs recorded over the API.
type Options struct {
	AllowEmptyResults bool
	HealthScaleFactor float64
}

type Server struct {
	db     *db.DB
	trend  *trend.Correlator
	builds *registry
	opts   Options
	http   *http.Server
	logger *slog.Logger
}

func New(database *db.DB, correlator *trend.Correlator, addr string, opts Options, logger *slog.Logger) *Server {
	if opts.HealthScaleFactor == 0 {
		opts.HealthScaleFactor = step.DefaultHealthScaleFactor
	}
	s := &Server{
		db:     database,
		trend:  correlator,
		builds: newRegistry(),
		opts:   opts,
		logger: logger,
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = loggingMiddleware(logger, handler)
	handler = recoveryMiddleware(logger, handler)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutting down", "active_runs", s.builds.len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
