// Package initiator turns a queued entry into a live carrier call: it
// pre-fetches a signed agent URL, composes the callback the carrier will
// hit once media starts, places the call, and durably records the result
// before anything else can observe it.
package initiator

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/agent"
	"github.com/acme/outbound-voice-orchestrator/internal/archive/scylla"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/events"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	apperrors "github.com/acme/outbound-voice-orchestrator/pkg/errors"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// Initiator places one outbound call for a queue entry and records its
// CallState before returning.
type Initiator struct {
	carrier       telephony.Provider
	agentProv     agent.Provider
	callStates    repository.CallStateRepository
	bus           *events.Bus
	archive       *scylla.Archive
	archiveBuffer *scylla.RetryBuffer
	cfg           config.CarrierConfig
	app           config.AppConfig
	logger        *logger.Logger
}

// New constructs an Initiator. archive and archiveBuffer may be nil when the
// Scylla history archive is disabled; archive writes are always best-effort.
func New(carrier telephony.Provider, agentProv agent.Provider, callStates repository.CallStateRepository, bus *events.Bus, archive *scylla.Archive, archiveBuffer *scylla.RetryBuffer, cfg config.CarrierConfig, app config.AppConfig, lg *logger.Logger) *Initiator {
	return &Initiator{
		carrier:       carrier,
		agentProv:     agentProv,
		callStates:    callStates,
		bus:           bus,
		archive:       archive,
		archiveBuffer: archiveBuffer,
		cfg:           cfg,
		app:           app,
		logger:        lg,
	}
}

// Initiate places the call described by entry and durably records the
// resulting CallState. It does not delete or mutate the queue entry; the
// caller (the scheduler) owns that transition once this returns
// successfully.
func (i *Initiator) Initiate(ctx context.Context, entry domain.QueueEntry) error {
	signedURL := entry.InitialSignedURL
	if signedURL == "" {
		fetched, err := i.agentProv.FetchSignedURL(ctx)
		if err != nil {
			return fmt.Errorf("initiator: fetch signed url: %w", err)
		}
		signedURL = fetched.URL
	}

	callbackURL := i.buildCallbackURL(entry)
	statusCallbackURL := i.buildStatusCallbackURL()

	result, err := i.carrier.PlaceCall(ctx, telephony.CallRequest{
		From:              i.cfg.SourcePhone,
		To:                entry.Phone,
		CallbackURL:       callbackURL,
		StatusCallbackURL: statusCallbackURL,
		RingTimeout:       i.cfg.RingTimeout,
		CallTimeLimit:     i.cfg.CallTimeLimit,
		StatusEvents:      telephony.StandardStatusEvents,
		DetectMachine:     true,
	})
	if err != nil {
		return fmt.Errorf("initiator: place call: %w", err)
	}

	now := time.Now().UTC()
	firstAttemptAt := entry.FirstAttemptAt
	if firstAttemptAt.IsZero() {
		firstAttemptAt = now
	}

	state := &domain.CallState{
		CallID:          result.ProviderCallID,
		ContactID:       entry.ContactID,
		Phone:           entry.Phone,
		AttemptIndex:    entry.AttemptIndex,
		Status:          domain.CallStatusInitiated,
		CreatedAt:       now,
		SignedURL:       signedURL,
		FirstName:       entry.FirstName,
		FullName:        entry.FullName,
		Email:           entry.Email,
		FullAddress:     entry.FullAddress,
		AnsweredBy:      domain.AnsweredByUnknown,
		FirstAttemptAt:  firstAttemptAt,
		PastCallSummary: entry.PastCallSummary,
		OriginalConvID:  entry.OriginalConvID,
	}

	if err := i.callStates.Put(ctx, state); err != nil {
		return fmt.Errorf("initiator: persist call state: %w", err)
	}

	if _, err := i.callStates.Get(ctx, state.CallID); err != nil {
		i.logger.Error("initiator: call state verification failed, state corruption suspected")
		i.publish(ctx, events.Event{
			Type:   "call.state_corruption",
			CallID: state.CallID,
			At:     now,
		})
		return fmt.Errorf("initiator: verify call state: %w: %w", apperrors.ErrStateCorrupt, err)
	}

	i.publish(ctx, events.Event{
		Type:      events.CallInitiated,
		CallID:    state.CallID,
		ContactID: state.ContactID,
		Attempt:   state.AttemptIndex,
		At:        now,
	})

	i.recordArchive(ctx, state)

	return nil
}

// recordArchive mirrors the new CallState into the Scylla history archive,
// best-effort. A failure here never affects the call outcome; it is buffered
// for the maintenance process to retry.
func (i *Initiator) recordArchive(ctx context.Context, state *domain.CallState) {
	if i.archive == nil {
		return
	}
	if err := i.archive.RecordAttempt(ctx, state); err != nil {
		i.logger.Warn("initiator: archive write failed, buffering for retry")
		if i.archiveBuffer != nil {
			i.archiveBuffer.Add(*state)
		}
	}
}

func (i *Initiator) buildCallbackURL(entry domain.QueueEntry) string {
	v := url.Values{}
	v.Set("firstName", entry.FirstName)
	v.Set("fullName", entry.FullName)
	v.Set("email", entry.Email)
	v.Set("phone", entry.Phone)
	v.Set("contactId", entry.ContactID)
	v.Set("fullAddress", entry.FullAddress)
	if entry.IsAbruptRetry {
		v.Set("isAbruptRetry", "true")
		v.Set("pastCallSummary", entry.PastCallSummary)
		v.Set("originalConvId", entry.OriginalConvID)
	}
	return fmt.Sprintf("%s%s/outgoing/outbound-call-twiml?%s", i.app.PublicURL, i.app.RoutePrefix, v.Encode())
}

func (i *Initiator) buildStatusCallbackURL() string {
	return fmt.Sprintf("%s%s/outgoing/call-status", i.app.PublicURL, i.app.RoutePrefix)
}

func (i *Initiator) publish(ctx context.Context, ev events.Event) {
	if err := i.bus.Publish(ctx, ev); err != nil {
		i.logger.Warn("initiator: publish event failed")
	}
}
