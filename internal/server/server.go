// Package server provides the HTTP server for posewrap.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/server/api"
	"github.com/ayusman/posewrap/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Session   *app.Session
	Store     *store.Store
	Live      *app.Live
	Logger    *zap.Logger
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    *zap.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Session != nil {
		s.mux.Handle("/api/detect", api.NewDetectHandler(s.config.Session, s.log))
		s.mux.Handle("/api/keypoints", NewKeypointsHandler(s.config.Session, s.log))
	}

	if s.config.Store != nil {
		frames := api.NewFrameHandler(s.config.Store)
		s.mux.Handle("/api/frames", frames)
		s.mux.Handle("/api/frames/", frames)
	}

	if s.config.Live != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Live))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if sess := s.config.Session; sess != nil {
		cfg := sess.Config()
		response["model"] = cfg.ModelName
		response["face"] = cfg.WithFace
		response["hands"] = cfg.WithHands
		response["heatmaps"] = cfg.DownloadHeatmaps
		response["subscribers"] = sess.Subscribers()
	}
	if live := s.config.Live; live != nil {
		processed, failures := live.Stats()
		response["live"] = map[string]any{
			"running":   live.Running(),
			"enabled":   live.IsEnabled(),
			"mode":      live.Mode().String(),
			"processed": processed,
			"failures":  failures,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
