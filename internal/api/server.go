package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"

	"github.com/acme/outbound-voice-orchestrator/internal/api/handlers"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
)

// Server wraps the Fiber application.
type Server struct {
	app  *fiber.App
	cfg  config.HTTPConfig
}

// NewServer constructs a new HTTP server.
func NewServer(cfg config.HTTPConfig, handlerSet *handlers.HandlerSet) *Server {
	fiberCfg := fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: handlerSet.ErrorHandler,
	}

	fiberApp := fiber.New(fiberCfg)
	fiberApp.Use(otelfiber.Middleware())
	handlerSet.Register(fiberApp)

	return &Server{app: fiberApp, cfg: cfg}
}

// Start begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
