// Package scheduler runs the periodic queue-draining loop: check the
// carrier's concurrency headroom, claim due entries up to that headroom,
// and hand each to the initiator.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/events"
	"github.com/acme/outbound-voice-orchestrator/internal/metrics"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// slotCache is the subset of internal/cache/activecalls.Cache the scheduler
// needs, narrowed to an interface so the tick/dispatch logic can be tested
// without a live Redis instance.
type slotCache interface {
	Set(ctx context.Context, count int) error
	ClaimSlot(ctx context.Context, limit int) (bool, error)
	ReleaseSlot(ctx context.Context) error
}

// callInitiator is the subset of internal/initiator.Initiator the scheduler
// depends on.
type callInitiator interface {
	Initiate(ctx context.Context, entry domain.QueueEntry) error
}

// Scheduler periodically drains the queue within the carrier's concurrency
// cap.
type Scheduler struct {
	queue     repository.QueueRepository
	carrier   telephony.Provider
	cache     slotCache
	initiator callInitiator
	bus       *events.Bus
	cfg       config.SchedulerConfig
	recovery  config.RecoveryConfig
	logger    *logger.Logger
}

// New constructs a Scheduler.
func New(queue repository.QueueRepository, carrier telephony.Provider, cache slotCache, init callInitiator, bus *events.Bus, cfg config.SchedulerConfig, recovery config.RecoveryConfig, lg *logger.Logger) *Scheduler {
	return &Scheduler{
		queue:     queue,
		carrier:   carrier,
		cache:     cache,
		initiator: init,
		bus:       bus,
		cfg:       cfg,
		recovery:  recovery,
		logger:    lg,
	}
}

// Run executes the scheduling loop until ctx is cancelled. A startup
// recovery sweep runs once, before the first tick, only when
// RecoverySweepOnStartup is set; otherwise no sweep runs at startup.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	if s.cfg.RecoverySweepOnStartup {
		if n, err := s.RecoverStaleInFlight(ctx); err != nil {
			s.logger.Error("scheduler: startup recovery sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("scheduler: startup recovery sweep recovered entries", zap.Int64("count", n))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler: tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RecoverStaleInFlight resets in-flight entries stuck since before the
// configured stale threshold back to pending.
func (s *Scheduler) RecoverStaleInFlight(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.recovery.StaleThreshold)
	return s.queue.RecoverStaleInFlight(ctx, cutoff)
}

func (s *Scheduler) tick(ctx context.Context) error {
	tracer := otel.Tracer("outbound.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	maxActive := s.cfg.MaxActiveCalls

	active, err := s.carrier.ActiveCallCount(sctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("scheduler: active call count query failed, assuming cap is used", zap.Error(err))
		active = maxActive
	} else if err := s.cache.Set(sctx, active); err != nil {
		s.logger.Warn("scheduler: active call count cache write failed", zap.Error(err))
	}

	metrics.InFlightCalls.Set(float64(active))

	capRemaining := maxActive - active
	span.SetAttributes(attribute.Int("active.count", active), attribute.Int("cap.remaining", capRemaining))
	if capRemaining <= 0 {
		return nil
	}

	now := time.Now().UTC()
	batch, err := s.queue.NextBatchForDispatch(sctx, capRemaining, now)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if pending, err := s.queue.CountPending(sctx); err == nil {
		metrics.QueueDepth.Set(float64(pending))
	}

	for _, entry := range batch {
		s.dispatch(sctx, entry, capRemaining)
	}

	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, entry domain.QueueEntry, capRemaining int) {
	claimed, err := s.cache.ClaimSlot(ctx, capRemaining)
	if err != nil {
		s.logger.Warn("scheduler: claim slot failed", zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	ok, err := s.queue.ClaimInFlight(ctx, entry.ID, time.Now().UTC())
	if err != nil {
		s.logger.Error("scheduler: claim in-flight failed", zap.Error(err))
		s.releaseSlot(ctx)
		return
	}
	if !ok {
		s.releaseSlot(ctx)
		return
	}

	if err := s.initiator.Initiate(ctx, entry); err != nil {
		s.logger.Error("scheduler: initiation failed", zap.String("queue_id", entry.ID), zap.Error(err))
		if markErr := s.queue.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			s.logger.Error("scheduler: mark failed failed", zap.Error(markErr))
		}
		s.publish(ctx, events.Event{Type: "call.initiation_failed", ContactID: entry.ContactID, Detail: err.Error(), At: time.Now().UTC()})
		s.releaseSlot(ctx)
		return
	}

	if err := s.queue.Delete(ctx, entry.ID); err != nil {
		s.logger.Error("scheduler: delete queue entry failed", zap.Error(err))
	}
	s.releaseSlot(ctx)
}

func (s *Scheduler) releaseSlot(ctx context.Context) {
	if err := s.cache.ReleaseSlot(ctx); err != nil {
		s.logger.Warn("scheduler: release slot failed", zap.Error(err))
	}
}

func (s *Scheduler) publish(ctx context.Context, ev events.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("scheduler: publish event failed")
	}
}
