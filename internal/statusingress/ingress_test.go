package statusingress

import (
	"context"
	"testing"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/clock"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

type fakeCallStates struct {
	state            *domain.CallState
	getErr           error
	retryScheduledOK bool
	updatedStatus    domain.CallStatus
	updatedAnswered  domain.AnsweredBy
}

func (f *fakeCallStates) Get(ctx context.Context, callID string) (*domain.CallState, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.state, nil
}

func (f *fakeCallStates) Put(ctx context.Context, state *domain.CallState) error { return nil }

func (f *fakeCallStates) UpdateAnsweredBy(ctx context.Context, callID string, answeredBy domain.AnsweredBy) error {
	f.updatedAnswered = answeredBy
	return nil
}

func (f *fakeCallStates) UpdateStatus(ctx context.Context, callID string, status domain.CallStatus) error {
	f.updatedStatus = status
	return nil
}

func (f *fakeCallStates) UpdateConversationID(ctx context.Context, callID string, conversationID string) error {
	return nil
}

func (f *fakeCallStates) SetRetryScheduled(ctx context.Context, callID string) (bool, error) {
	if f.retryScheduledOK {
		f.retryScheduledOK = false
		return true, nil
	}
	return false, nil
}

func (f *fakeCallStates) CountInFlight(ctx context.Context) (int64, error) { return 0, nil }

type fakeQueue struct {
	inserted []*domain.QueueEntry
}

func (f *fakeQueue) Insert(ctx context.Context, entry *domain.QueueEntry) error {
	f.inserted = append(f.inserted, entry)
	return nil
}
func (f *fakeQueue) NextBatchForDispatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	return nil, nil
}
func (f *fakeQueue) ClaimInFlight(ctx context.Context, id string, now time.Time) (bool, error) {
	return true, nil
}
func (f *fakeQueue) MarkFailed(ctx context.Context, id string, lastError string) error { return nil }
func (f *fakeQueue) Delete(ctx context.Context, id string) error                       { return nil }
func (f *fakeQueue) RecoverStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeQueue) CountPending(ctx context.Context) (int64, error) { return 0, nil }

type telephonyStub struct {
	terminated []string
}

func (f *telephonyStub) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	return telephony.CallResult{}, nil
}
func (f *telephonyStub) TerminateCall(ctx context.Context, providerCallID string) error {
	f.terminated = append(f.terminated, providerCallID)
	return nil
}
func (f *telephonyStub) ActiveCallCount(ctx context.Context) (int, error) { return 0, nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return lg
}

func testClock(t *testing.T) *clock.Clock {
	t.Helper()
	clk, err := clock.New("UTC")
	if err != nil {
		t.Fatalf("clock.New: %v", err)
	}
	return clk
}

func TestProcessMachineDetectedSchedulesRetryAndTerminatesCall(t *testing.T) {
	states := &fakeCallStates{
		state: &domain.CallState{
			CallID:       "call-1",
			ContactID:    "contact-1",
			AttemptIndex: 0,
		},
		retryScheduledOK: true,
	}
	queue := &fakeQueue{}
	carrier := &telephonyStub{}

	ing := New(states, queue, carrier, testClock(t), nil, nil, nil, nil, config.RetryConfig{MaxAttempts: 9}, testLogger(t))

	err := ing.Process(context.Background(), StatusEvent{
		CallID:     "call-1",
		Status:     domain.CallStatusInProgress,
		AnsweredBy: domain.AnsweredByMachineStart,
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(carrier.terminated) != 1 || carrier.terminated[0] != "call-1" {
		t.Fatalf("expected call-1 to be terminated, got %v", carrier.terminated)
	}
	if len(queue.inserted) != 1 {
		t.Fatalf("expected one retry entry queued, got %d", len(queue.inserted))
	}
	if queue.inserted[0].AttemptIndex != 1 {
		t.Fatalf("expected retry attempt index 1, got %d", queue.inserted[0].AttemptIndex)
	}
}

func TestProcessTerminalSuccessDoesNotRequeue(t *testing.T) {
	states := &fakeCallStates{
		state: &domain.CallState{
			CallID:       "call-2",
			ContactID:    "contact-2",
			AttemptIndex: 0,
			AnsweredBy:   domain.AnsweredByHuman,
		},
	}
	queue := &fakeQueue{}
	carrier := &telephonyStub{}

	ing := New(states, queue, carrier, testClock(t), nil, nil, nil, nil, config.RetryConfig{MaxAttempts: 9}, testLogger(t))

	err := ing.Process(context.Background(), StatusEvent{
		CallID:     "call-2",
		Status:     domain.CallStatusCompleted,
		AnsweredBy: domain.AnsweredByHuman,
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(queue.inserted) != 0 {
		t.Fatalf("expected no retry for terminal success, got %d", len(queue.inserted))
	}
	if len(carrier.terminated) != 0 {
		t.Fatalf("expected no termination call for terminal success")
	}
}

func TestProcessRetryScheduledLatchDropsDuplicate(t *testing.T) {
	states := &fakeCallStates{
		state: &domain.CallState{
			CallID:         "call-3",
			AttemptIndex:   0,
			RetryScheduled: true,
		},
	}
	queue := &fakeQueue{}
	carrier := &telephonyStub{}

	ing := New(states, queue, carrier, testClock(t), nil, nil, nil, nil, config.RetryConfig{MaxAttempts: 9}, testLogger(t))

	if err := ing.Process(context.Background(), StatusEvent{CallID: "call-3", Status: domain.CallStatusFailed}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(queue.inserted) != 0 {
		t.Fatalf("expected no new retry entry once retry already scheduled")
	}
}

func TestProcessLadderExhaustedDoesNotRequeue(t *testing.T) {
	states := &fakeCallStates{
		state: &domain.CallState{
			CallID:       "call-4",
			AttemptIndex: 8,
		},
		retryScheduledOK: true,
	}
	queue := &fakeQueue{}
	carrier := &telephonyStub{}

	ing := New(states, queue, carrier, testClock(t), nil, nil, nil, nil, config.RetryConfig{MaxAttempts: 9}, testLogger(t))

	if err := ing.Process(context.Background(), StatusEvent{CallID: "call-4", Status: domain.CallStatusBusy}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(queue.inserted) != 0 {
		t.Fatalf("expected no retry entry once ladder exhausted, got %d", len(queue.inserted))
	}
}

func TestProcessNotFoundDrops(t *testing.T) {
	states := &fakeCallStates{getErr: repository.ErrNotFound}
	queue := &fakeQueue{}
	carrier := &telephonyStub{}

	ing := New(states, queue, carrier, testClock(t), nil, nil, nil, nil, config.RetryConfig{MaxAttempts: 9}, testLogger(t))

	start := time.Now()
	if err := ing.Process(context.Background(), StatusEvent{CallID: "unknown"}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if time.Since(start) < 2*time.Second {
		t.Fatalf("expected the bounded sleep-and-retry-once fallback to elapse")
	}
}
