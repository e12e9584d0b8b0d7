// Package web provides the HTTP API for gateway status, polled values,
// parameter writes, diagnostics and device discovery.
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"xcomlink/catalog"
	"xcomlink/config"
	"xcomlink/poller"
	"xcomlink/xcom"
)

// Server is the HTTP API server.
type Server struct {
	config   *config.WebConfig
	appCfg   *config.Config
	client   *xcom.Client
	poller   *poller.Poller
	discover *xcom.Discover
	dataset  *catalog.Dataset

	server  *http.Server
	router  chi.Router
	running bool
	mu      sync.RWMutex
}

// NewServer creates a new API server.
func NewServer(webCfg *config.WebConfig, appCfg *config.Config, client *xcom.Client, p *poller.Poller, dataset *catalog.Dataset) *Server {
	s := &Server{
		config:   webCfg,
		appCfg:   appCfg,
		client:   client,
		poller:   p,
		discover: xcom.NewDiscover(client, dataset),
		dataset:  dataset,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the chi router with all routes.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/", s.handleStatus)
	r.Get("/values", s.handleAllValues)
	r.Get("/values/{name}", s.handleSingleValue)
	r.Post("/write", s.handleWrite)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Post("/discover", s.handleDiscover)
	r.Get("/families", s.handleFamilies)
	r.Get("/datapoints/{family}", s.handleDatapoints)
	r.Get("/config", s.handleConfig)

	s.router = r
}

// corsMiddleware adds CORS headers for API access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop halts the HTTP server gracefully.
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

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}
