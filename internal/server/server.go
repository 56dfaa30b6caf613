// Package server provides the HTTP surface of the iris demo: the JSON API,
// the composed webcam stream, the landmark websocket and the static page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/app"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App
	Logger    *zap.Logger
}

// Server represents the HTTP server for the demo.
type Server struct {
	config    Config
	logger    *zap.Logger
	mux       *http.ServeMux
	start     time.Time
	landmarks *LandmarksHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	s := &Server{
		config: config,
		logger: config.Logger,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		h := &demoHandler{app: a, logger: s.logger.Named("api")}
		s.mux.HandleFunc("GET /api/images", h.listImages)
		s.mux.HandleFunc("GET /api/images/{id}", h.getImage)
		s.mux.HandleFunc("POST /api/images/{id}/detect", h.detectImage)
		s.mux.HandleFunc("GET /api/images/{id}/overlay", h.getOverlay)
		s.mux.HandleFunc("GET /api/webcam", h.getWebcam)
		s.mux.HandleFunc("POST /api/webcam", h.toggleWebcam)
		s.mux.HandleFunc("GET /api/blendshapes/{panel}", h.getBlendShapes)

		s.mux.Handle("GET /api/stream", NewStreamHandler(a, s.logger.Named("stream")))

		s.landmarks = NewLandmarksHandler(a, s.logger.Named("ws"))
		s.mux.Handle("GET /api/landmarks", s.landmarks)
	}

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
	response := map[string]any{
		"status":        "ok",
		"uptime":        time.Since(s.start).String(),
		"ready":         false,
		"demos_visible": false,
	}
	if a := s.config.App; a != nil {
		response["ready"] = a.Loader().IsReady()
		response["demos_visible"] = a.DemosVisible()
		if err := a.Loader().Err(); err != nil {
			response["load_error"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops background broadcasters.
func (s *Server) Close() {
	if s.landmarks != nil {
		s.landmarks.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
