// Package app wires together the orchestrator's shared infrastructure:
// the embedded store, the ambient Redis/Scylla/Kafka services, the
// carrier/agent providers, and the scheduler/initiator/status-ingress/bridge
// components that sit on top of them.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acme/outbound-voice-orchestrator/internal/agent"
	agentmock "github.com/acme/outbound-voice-orchestrator/internal/agent/mock"
	"github.com/acme/outbound-voice-orchestrator/internal/api/handlers"
	"github.com/acme/outbound-voice-orchestrator/internal/archive/scylla"
	"github.com/acme/outbound-voice-orchestrator/internal/bridge"
	"github.com/acme/outbound-voice-orchestrator/internal/cache/activecalls"
	"github.com/acme/outbound-voice-orchestrator/internal/clock"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/events"
	redisinfra "github.com/acme/outbound-voice-orchestrator/internal/infra/redis"
	"github.com/acme/outbound-voice-orchestrator/internal/initiator"
	"github.com/acme/outbound-voice-orchestrator/internal/maintenance"
	"github.com/acme/outbound-voice-orchestrator/internal/metrics"
	"github.com/acme/outbound-voice-orchestrator/internal/notifier"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/scheduler"
	"github.com/acme/outbound-voice-orchestrator/internal/statusingress"
	"github.com/acme/outbound-voice-orchestrator/internal/store/sqlite"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	telephonymock "github.com/acme/outbound-voice-orchestrator/internal/telephony/mock"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Ambient
// services (Redis, Scylla, Kafka) are optional: a nil handle here means the
// corresponding cache/archive/event-bus component degrades to a no-op per
// the ambient-service-degradation policy.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Store  *sqlite.Store
	Scylla *scylla.Session
	Redis  *redisinfra.Client
	Events *events.Bus

	components struct {
		once sync.Once

		queueRepo     repository.QueueRepository
		callStateRepo repository.CallStateRepository
		oauthRepo     repository.OAuthTokenRepository
		carrier       telephony.Provider
		agentProvider agent.Provider
		notifier      *notifier.Notifier
		cache         *activecalls.Cache
		clock         *clock.Clock
		archive       *scylla.Archive
		archiveBuffer *scylla.RetryBuffer
		initiator     *initiator.Initiator
		scheduler     *scheduler.Scheduler
		statusIngress *statusingress.Ingress
		bridge        *bridge.Bridge
		maintenance   *maintenance.Maintenance
	}
}

// Build constructs a container for the given configuration path, opening
// the required embedded store and any enabled ambient services.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("bootstrap store: %w", err)
	}

	c := &Container{Config: cfg, Logger: lg, Store: store}

	if cfg.Scylla.Enabled {
		session, err := scylla.NewSession(cfg.Scylla)
		if err != nil {
			lg.Warn("scylla unavailable, archive disabled: " + err.Error())
		} else {
			c.Scylla = session
		}
	}

	if cfg.Redis.Enabled {
		redisClient, err := redisinfra.NewClient(cfg.Redis)
		if err != nil {
			lg.Warn("redis unavailable, active-call cache disabled: " + err.Error())
		} else {
			c.Redis = redisClient
		}
	}

	if cfg.Kafka.Enabled {
		bus, err := events.NewBus(cfg.Kafka)
		if err != nil {
			lg.Warn("kafka unavailable, event bus disabled: " + err.Error())
		} else {
			c.Events = bus
		}
	}

	return c, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		clk, err := clock.New(c.Config.Retry.CivilTimezone)
		if err != nil {
			c.Logger.Error("clock: falling back to UTC, invalid civil timezone configured")
			clk, _ = clock.New("UTC")
		}
		c.components.clock = clk

		c.components.queueRepo = sqlite.NewQueueRepository(c.Store)
		c.components.callStateRepo = sqlite.NewCallStateRepository(c.Store)
		c.components.oauthRepo = sqlite.NewOAuthTokenRepository(c.Store)

		if c.Config.Carrier.BaseURL == "" {
			c.components.carrier = telephonymock.NewProvider()
		} else {
			c.components.carrier = telephony.NewClient(c.Config.Carrier)
		}

		if c.Config.Agent.BaseURL == "" {
			c.components.agentProvider = agentmock.NewProvider()
		} else {
			c.components.agentProvider = agent.NewClient(c.Config.Agent)
		}

		c.components.notifier = notifier.New(c.Config.Notifier, c.Logger)

		if c.Redis != nil {
			c.components.cache = activecalls.New(c.Redis.Inner(), c.Config.Redis.ActiveCallsTTL)
		}

		if c.Scylla != nil {
			c.components.archive = scylla.NewArchive(c.Scylla.Raw())
			c.components.archiveBuffer = scylla.NewRetryBuffer()
		}

		metrics.Register(prometheus.DefaultRegisterer)

		c.components.initiator = initiator.New(
			c.components.carrier,
			c.components.agentProvider,
			c.components.callStateRepo,
			c.Events,
			c.components.archive,
			c.components.archiveBuffer,
			c.Config.Carrier,
			c.Config.App,
			c.Logger,
		)

		c.components.scheduler = scheduler.New(
			c.components.queueRepo,
			c.components.carrier,
			c.components.cache,
			c.components.initiator,
			c.Events,
			c.Config.Scheduler,
			c.Config.Recovery,
			c.Logger,
		)

		c.components.maintenance = maintenance.New(
			c.components.scheduler,
			c.components.oauthRepo,
			c.components.archive,
			c.components.archiveBuffer,
			c.Config.Recovery,
			c.Logger,
		)

		c.components.statusIngress = statusingress.New(
			c.components.callStateRepo,
			c.components.queueRepo,
			c.components.carrier,
			clk,
			c.Events,
			c.components.notifier,
			c.components.archive,
			c.components.archiveBuffer,
			c.Config.Retry,
			c.Logger,
		)

		c.components.bridge = bridge.New(
			c.components.agentProvider,
			c.components.callStateRepo,
			c.Events,
			c.Logger,
		)
	})
}

// QueueRepository exposes the queue repository.
func (c *Container) QueueRepository() repository.QueueRepository {
	c.initComponents()
	return c.components.queueRepo
}

// CallStateRepository exposes the call-state repository.
func (c *Container) CallStateRepository() repository.CallStateRepository {
	c.initComponents()
	return c.components.callStateRepo
}

// OAuthTokenRepository exposes the read-only OAuth token repository.
func (c *Container) OAuthTokenRepository() repository.OAuthTokenRepository {
	c.initComponents()
	return c.components.oauthRepo
}

// Scheduler exposes the queue scheduler.
func (c *Container) Scheduler() *scheduler.Scheduler {
	c.initComponents()
	return c.components.scheduler
}

// StatusIngress exposes the status-callback ingress.
func (c *Container) StatusIngress() *statusingress.Ingress {
	c.initComponents()
	return c.components.statusIngress
}

// Bridge exposes the media bridge.
func (c *Container) Bridge() *bridge.Bridge {
	c.initComponents()
	return c.components.bridge
}

// Archive exposes the best-effort Scylla call-history archive, or nil if
// Scylla is disabled or unreachable.
func (c *Container) Archive() *scylla.Archive {
	c.initComponents()
	return c.components.archive
}

// Clock exposes the retry-ladder clock.
func (c *Container) Clock() *clock.Clock {
	c.initComponents()
	return c.components.clock
}

// Maintenance exposes the periodic maintenance process.
func (c *Container) Maintenance() *maintenance.Maintenance {
	c.initComponents()
	return c.components.maintenance
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	c.initComponents()
	return handlers.NewHandlerSet(handlers.Deps{
		Config:     *c.Config,
		Queue:      c.components.queueRepo,
		CallStates: c.components.callStateRepo,
		Ingress:    c.components.statusIngress,
		Bridge:     c.components.bridge,
		Clock:      c.components.clock,
		Bus:        c.Events,
		Store:      c.Store,
		Redis:      c.Redis,
		Scylla:     c.Scylla,
		Archive:    c.components.archive,
		Logger:     c.Logger,
	})
}

// EnsureTopics creates the Kafka events topic if Kafka is enabled. It is a
// no-op when the event bus is disabled.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Events == nil {
		return nil
	}
	return c.Events.EnsureTopic(ctx, c.Config.Kafka.Brokers, 1, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
