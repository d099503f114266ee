package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acme/outbound-voice-orchestrator/internal/archive/scylla"
	"github.com/acme/outbound-voice-orchestrator/internal/bridge"
	"github.com/acme/outbound-voice-orchestrator/internal/clock"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/events"
	redisinfra "github.com/acme/outbound-voice-orchestrator/internal/infra/redis"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/statusingress"
	"github.com/acme/outbound-voice-orchestrator/internal/store/sqlite"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// HandlerSet bundles all HTTP and WebSocket handlers.
type HandlerSet struct {
	cfg        config.Config
	queue      repository.QueueRepository
	callStates repository.CallStateRepository
	ingress    *statusingress.Ingress
	bridge     *bridge.Bridge
	clock      *clock.Clock
	bus        *events.Bus

	store   *sqlite.Store
	redis   *redisinfra.Client
	scylla  *scylla.Session
	archive *scylla.Archive

	logger *logger.Logger
}

// Deps bundles the constructor arguments for NewHandlerSet.
type Deps struct {
	Config     config.Config
	Queue      repository.QueueRepository
	CallStates repository.CallStateRepository
	Ingress    *statusingress.Ingress
	Bridge     *bridge.Bridge
	Clock      *clock.Clock
	Bus        *events.Bus
	Store      *sqlite.Store
	Redis      *redisinfra.Client
	Scylla     *scylla.Session
	Archive    *scylla.Archive
	Logger     *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(d Deps) *HandlerSet {
	return &HandlerSet{
		cfg:        d.Config,
		queue:      d.Queue,
		callStates: d.CallStates,
		ingress:    d.Ingress,
		bridge:     d.Bridge,
		clock:      d.Clock,
		bus:        d.Bus,
		store:      d.Store,
		redis:      d.Redis,
		scylla:     d.Scylla,
		archive:    d.Archive,
		logger:     d.Logger,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	prefix := h.cfg.App.RoutePrefix
	group := app.Group(prefix + "/outgoing")

	group.Post("/outbound-call", h.enqueueOutboundCall)
	group.Post("/call-status", h.callStatus)
	group.All("/outbound-call-twiml", h.outboundCallTwiML)
	group.Get("/call-history", h.callHistory)

	group.Use("/outbound-media-stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	group.Get("/outbound-media-stream", websocket.New(h.bridge.Handle))
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	fatal := false

	if h.store == nil || h.store.DB().PingContext(healthCtx) != nil {
		if h.store == nil {
			errs["store"] = "not configured"
		} else if err := h.store.DB().PingContext(healthCtx); err != nil {
			errs["store"] = err.Error()
		}
		fatal = true
	}

	if h.redis != nil {
		if err := h.redis.Inner().Ping(healthCtx).Err(); err != nil {
			errs["redis"] = err.Error()
		}
	}

	if h.scylla != nil {
		if err := h.scylla.Raw().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
			errs["scylla"] = err.Error()
		}
	}

	status := fiber.StatusOK
	if fatal {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
