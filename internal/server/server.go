// Package server provides the HTTP API for the notes service.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/config"
	"github.com/hyperjump/secondbrain/internal/indexer"
	"github.com/hyperjump/secondbrain/internal/metrics"
	"github.com/hyperjump/secondbrain/internal/search"
	"github.com/hyperjump/secondbrain/internal/storage"
)

// maxBodyBytes bounds request bodies; notes are plain text.
const maxBodyBytes = 4 << 20

// Server is the HTTP server for the notes API.
type Server struct {
	engine  *search.Engine
	indexer *indexer.Indexer
	repo    storage.NoteRepository
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	repo storage.NoteRepository,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		indexer: idx,
		repo:    repo,
		config:  cfg,
		logger:  logger,
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(metrics.Middleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Ingestion embeds a whole directory; it is bounded per provider call instead.
		r.Post("/ingest", s.handleIngest)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout(s.config)))
			r.Post("/notes", s.handleCreateNote)
			r.Get("/notes", s.handleListNotes)
			r.Get("/notes/{id}", s.handleGetNote)
			r.Post("/chat", s.handleChat)
			r.Get("/status", s.handleStatus)
		})
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// minRequestTimeout is the floor for the per-request deadline.
const minRequestTimeout = 60 * time.Second

// requestTimeout covers one embedding call plus one generation call, the most a chat request makes,
// with headroom for the stores.
func requestTimeout(cfg *config.Config) time.Duration {
	d := cfg.Embedding.Timeout + cfg.Generation.Timeout + 10*time.Second
	if d < minRequestTimeout {
		return minRequestTimeout
	}
	return d
}

// accessLog writes one debug line per request; the metrics middleware covers the aggregates.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start starts the HTTP server and blocks until it stops. A graceful Stop returns nil.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
