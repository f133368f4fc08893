// Package api provides the REST API server exposing controller state,
// connection control, and network scanning.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"modlink/config"
	"modlink/logging"
	"modlink/plcman"
	"modlink/push"
)

// Server is the REST API server.
type Server struct {
	service *plcman.Service
	cfg     *config.Config
	sinks   *push.Manager
	server  *http.Server
	running bool
	mu      sync.RWMutex
}

// NewServer creates a new REST API server around the connection service.
// sinks may be nil when no publishers are configured.
func NewServer(service *plcman.Service, cfg *config.Config, sinks *push.Manager) *Server {
	return &Server{
		service: service,
		cfg:     cfg,
		sinks:   sinks,
	}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	router := NewRouter(s.service, s.cfg, s.sinks)

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: corsMiddleware(router),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	logging.Info("api", "listening on %s", addr)
	return nil
}

// Stop halts the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
