// Package statusingress applies the carrier's status-callback classification
// table to tracked calls and drives the retry ladder.
package statusingress

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/outbound-voice-orchestrator/internal/archive/scylla"
	"github.com/acme/outbound-voice-orchestrator/internal/clock"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/events"
	"github.com/acme/outbound-voice-orchestrator/internal/metrics"
	"github.com/acme/outbound-voice-orchestrator/internal/notifier"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// StatusEvent is the normalized form of one carrier status callback.
type StatusEvent struct {
	CallID     string
	Status     domain.CallStatus
	AnsweredBy domain.AnsweredBy
	Phone      string
}

// Ingress processes carrier status callbacks.
type Ingress struct {
	callStates    repository.CallStateRepository
	queue         repository.QueueRepository
	carrier       telephony.Provider
	clock         *clock.Clock
	bus           *events.Bus
	notifier      *notifier.Notifier
	archive       *scylla.Archive
	archiveBuffer *scylla.RetryBuffer
	retry         config.RetryConfig
	logger        *logger.Logger
}

// New constructs an Ingress. archive and archiveBuffer may be nil, matching
// the ambient-service-degradation policy when Scylla is disabled.
func New(callStates repository.CallStateRepository, queue repository.QueueRepository, carrier telephony.Provider, clk *clock.Clock, bus *events.Bus, n *notifier.Notifier, archive *scylla.Archive, archiveBuffer *scylla.RetryBuffer, retry config.RetryConfig, lg *logger.Logger) *Ingress {
	return &Ingress{
		callStates:    callStates,
		queue:         queue,
		carrier:       carrier,
		clock:         clk,
		bus:           bus,
		notifier:      n,
		archive:       archive,
		archiveBuffer: archiveBuffer,
		retry:         retry,
		logger:        lg,
	}
}

// Process applies the classification table to one callback. It always
// returns nil: a call that the lookup cannot resolve after the bounded retry
// is logged and its event dropped, so every callback is acknowledged with 200.
func (ig *Ingress) Process(ctx context.Context, ev StatusEvent) error {
	tracer := otel.Tracer("outbound.statusingress")
	sctx, span := tracer.Start(ctx, "statusingress.process", trace.WithAttributes(
		attribute.String("call.id", ev.CallID),
		attribute.String("call.status", string(ev.Status)),
	))
	defer span.End()

	state, err := ig.callStates.Get(sctx, ev.CallID)
	if errors.Is(err, repository.ErrNotFound) {
		time.Sleep(2 * time.Second)
		state, err = ig.callStates.Get(sctx, ev.CallID)
	}
	if err != nil {
		ig.logger.Warn("statusingress: call state not found, dropping event", zap.String("call_id", ev.CallID))
		return nil
	}

	if state.RetryScheduled {
		ig.logger.Debug("statusingress: retry already scheduled, dropping duplicate event", zap.String("call_id", ev.CallID))
		return nil
	}

	if ev.AnsweredBy != "" && ev.AnsweredBy != state.AnsweredBy {
		if err := ig.callStates.UpdateAnsweredBy(sctx, ev.CallID, ev.AnsweredBy); err != nil {
			ig.logger.Warn("statusingress: update answered_by failed", zap.Error(err))
		}
		state.AnsweredBy = ev.AnsweredBy
	}

	if err := ig.callStates.UpdateStatus(sctx, ev.CallID, ev.Status); err != nil {
		ig.logger.Warn("statusingress: update status failed", zap.Error(err))
	}
	state.Status = ev.Status

	ig.recordArchive(sctx, state)

	classification := domain.Classify(ev.Status, state.AnsweredBy)

	switch classification {
	case domain.ClassificationMachineDetected:
		ig.handleRetryable(sctx, state, "machine_detected", true)
	case domain.ClassificationRetryableFailure:
		ig.handleRetryable(sctx, state, "carrier_outcome", false)
	case domain.ClassificationTerminalSuccess:
		ig.notify(sctx, events.TerminalSuccess, state, "")
	default:
	}

	return nil
}

// recordArchive mirrors the transition into the best-effort history archive,
// buffering it for the maintenance process to retry on failure, exactly like
// the initiator's own first-snapshot write.
func (ig *Ingress) recordArchive(ctx context.Context, state *domain.CallState) {
	if ig.archive == nil {
		return
	}
	if err := ig.archive.UpdateStatus(ctx, state.CallID, state.CreatedAt, state.Status, state.AnsweredBy); err != nil {
		ig.logger.Warn("statusingress: archive write failed, buffering for retry")
		if ig.archiveBuffer != nil {
			ig.archiveBuffer.AddStatusUpdate(*state)
		}
	}
}

func (ig *Ingress) handleRetryable(ctx context.Context, state *domain.CallState, reason string, terminateCall bool) {
	didSet, err := ig.callStates.SetRetryScheduled(ctx, state.CallID)
	if err != nil {
		ig.logger.Error("statusingress: set retry-scheduled latch failed", zap.Error(err))
		return
	}
	if !didSet {
		return
	}

	if terminateCall {
		if err := ig.carrier.TerminateCall(ctx, state.CallID); err != nil {
			ig.logger.Warn("statusingress: best-effort terminate call failed", zap.Error(err))
		}
	}

	metrics.RetryStepsConsumed.WithLabelValues(reason).Inc()

	nextAttempt := state.AttemptIndex + 1
	if nextAttempt >= ig.retry.MaxAttempts {
		metrics.LadderExhausted.Inc()
		ig.notify(ctx, events.LadderExhausted, state, reason)
		return
	}

	now := time.Now().UTC()
	_, scheduledAt := ig.clock.Next(state.AttemptIndex, now)

	entry := &domain.QueueEntry{
		ID:               newULID(),
		ContactID:        state.ContactID,
		Phone:            state.Phone,
		FirstName:        state.FirstName,
		FullName:         state.FullName,
		Email:            state.Email,
		FullAddress:      state.FullAddress,
		AttemptIndex:     nextAttempt,
		Status:           domain.QueueEntryPending,
		ScheduledAt:      scheduledAt,
		CreatedAt:        now,
		FirstAttemptAt:   state.FirstAttemptAt,
		InitialSignedURL: "",
		PastCallSummary:  state.PastCallSummary,
		OriginalConvID:   state.OriginalConvID,
		IsAbruptRetry:    state.ConversationID != "",
	}
	if entry.IsAbruptRetry && entry.OriginalConvID == "" {
		entry.OriginalConvID = state.ConversationID
	}

	if err := ig.queue.Insert(ctx, entry); err != nil {
		ig.logger.Error("statusingress: schedule retry failed", zap.Error(err))
		return
	}

	if reason == "machine_detected" {
		ig.notify(ctx, events.MachineDetected, state, reason)
	} else {
		ig.notify(ctx, events.RetryScheduled, state, reason)
	}
}

func (ig *Ingress) notify(ctx context.Context, evType events.EventType, state *domain.CallState, detail string) {
	now := time.Now().UTC()
	if err := ig.bus.Publish(ctx, events.Event{
		Type:      evType,
		CallID:    state.CallID,
		ContactID: state.ContactID,
		Attempt:   state.AttemptIndex,
		Detail:    detail,
		At:        now,
	}); err != nil {
		ig.logger.Warn("statusingress: publish event failed")
	}
	ig.notifier.Notify(ctx, notifier.Notification{
		Type:      string(evType),
		CallID:    state.CallID,
		ContactID: state.ContactID,
		Detail:    detail,
		At:        now,
	})
}

var ulidEntropy = ulid.Monotonic(rand.Reader, 0)

func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}
