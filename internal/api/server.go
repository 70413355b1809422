package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/bulkpost/internal/config"
	"github.com/ignite/bulkpost/internal/pkg/logger"
)

// Server wraps the HTTP listener.
type Server struct {
	cfg    config.ServerConfig
	log    *logger.Logger
	server *http.Server
}

// NewServer creates the API server around the given handler set.
func NewServer(cfg config.ServerConfig, h *Handlers, log *logger.Logger) *Server {
	router := SetupRoutes(h)
	return &Server{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.log.Infof("server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
