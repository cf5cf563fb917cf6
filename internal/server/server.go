package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/plugin"
	"github.com/HerbHall/fleetpulse/internal/version"
)

// Options configures the HTTP server.
type Options struct {
	Addr       string
	CORSOrigin string
	StaticDir  string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the main fleetpulse server.
type Server struct {
	httpServer *http.Server
	registry   *plugin.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance.
func New(opts Options, reg *plugin.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        opts.Addr,
			Handler:     withCORS(mux, opts.CORSOrigin),
			ReadTimeout: 15 * time.Second,
			// Event streams are long-lived; stream writers set their own
			// per-write deadlines.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		registry: reg,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes(opts)
	s.mountPluginRoutes()

	return s
}

// Handler returns the root handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withCORS wraps h with the CORS policy for origin. Streams and checks are
// read-only, so only GET, HEAD and OPTIONS are allowed.
func withCORS(h http.Handler, origin string) http.Handler {
	origins := []string{"*"}
	if o := strings.TrimSpace(origin); o != "" && o != "*" {
		origins = nil
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Cache-Control", "Last-Event-ID"},
		MaxAge:         300,
	})(h)
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes(opts Options) {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
		s.logger.Info("serving static files", zap.String("dir", opts.StaticDir))
	} else {
		s.mux.HandleFunc("GET /", s.handleNotFound)
	}
}

// mountPluginRoutes registers every plugin route at its own path. Route
// paths are part of the public API clients already use, so they are not
// prefixed with the plugin name.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	for _, p := range s.registry.All() {
		for _, route := range allRoutes[p.Name()] {
			pattern := fmt.Sprintf("%s %s", route.Method, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", p.Name()),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status.
// The overall status is degraded when any plugin reports so.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	plugins := s.registry.Health(r.Context())
	status := plugin.StatusOK
	for _, h := range plugins {
		if h.Status != plugin.StatusOK {
			status = plugin.StatusDegraded
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Fleetpulse-Version", version.Short())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"service": "fleetpulse",
		"version": version.Map(),
		"plugins": plugins,
	})
}

// handlePlugins returns the list of registered plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	plugins := s.registry.All()
	type pluginResponse struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Enabled bool   `json:"enabled"`
	}
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, pluginResponse{
			Name:    p.Name(),
			Version: p.Version(),
			Enabled: s.registry.Enabled(p.Name()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Fleetpulse-Version", version.Short())
	json.NewEncoder(w).Encode(info)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFound(w, "no route for "+r.URL.Path, r.URL.Path)
}
