// Package server is the HTTP edge of the pipeline: book ingress, status and
// chapter queries, and finished-audio downloads. It writes nothing to the
// aggregate store; all state mutations travel through the event tracker.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fablecast/fablecast/internal/broker"
	"github.com/fablecast/fablecast/internal/health"
	"github.com/fablecast/fablecast/internal/state"
	"github.com/fablecast/fablecast/internal/storage"
	"github.com/fablecast/fablecast/pkg/types"
)

// Server hosts the ingress, query and download endpoints.
type Server struct {
	cfg       types.ServerConfig
	store     state.Store
	storage   storage.Adapter
	publisher broker.Publisher
	health    *health.Handler
	httpSrv   *http.Server
}

// New creates the HTTP server.
func New(cfg types.ServerConfig, store state.Store, adapter storage.Adapter, publisher broker.Publisher, healthHandler *health.Handler) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		storage:   adapter,
		publisher: publisher,
		health:    healthHandler,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/books", s.handleUpload)
	mux.HandleFunc("GET /api/v1/books/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/v1/books/{id}/chapters", s.handleChapters)
	mux.HandleFunc("GET /api/v1/books/{id}/audio/{chapter}", s.handleDownload)
	mux.HandleFunc("GET /health/live", s.health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.health.ReadinessHandler())

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

// Handler exposes the route table, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
