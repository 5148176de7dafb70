package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/rendertron/internal/clock/system"
	"github.com/JakeFAU/rendertron/internal/config"
	"github.com/JakeFAU/rendertron/internal/render"
	"github.com/JakeFAU/rendertron/internal/telemetry"
)

// Renderer produces rendered documents and screenshots.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (string, error)
	Screenshot(ctx context.Context, req render.Request) ([]byte, error)
}

// SettingsSource exposes the active runtime settings.
type SettingsSource interface {
	Current() config.Settings
}

// FailureRecorder receives every unexpected request failure.
type FailureRecorder interface {
	Record(err error)
}

// Clock times requests for the UseTime header.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Server wires HTTP handlers to the renderer.
type Server struct {
	router   chi.Router
	settings SettingsSource
	renderer Renderer
	failures FailureRecorder
	clock    Clock
	logger   *zap.Logger
}

// compressionLevel is the gzip/deflate level for compressible responses.
const compressionLevel = 5

// NewServer constructs a Server with middleware and routes.
func NewServer(
	settings SettingsSource,
	renderer Renderer,
	failures FailureRecorder,
	clock Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	s := &Server{
		settings: settings,
		renderer: renderer,
		failures: failures,
		clock:    clock,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Compress(compressionLevel))

	r.Get("/_ah/health", s.health)
	r.Get("/metrics", telemetry.Handler().ServeHTTP)
	r.Get("/params/*", s.params)
	r.With(s.debugMiddleware("render")).Get("/render/*", s.render)
	r.With(s.debugMiddleware("screenshot")).Get("/screenshot/*", s.screenshot)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
