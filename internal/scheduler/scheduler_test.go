package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/cache/activecalls"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

type fakeQueue struct {
	batch           []domain.QueueEntry
	claimed         map[string]bool
	deleted         map[string]bool
	failed          map[string]string
	recoverCalls    int
	claimInFlightOK bool
}

func newFakeQueue(batch []domain.QueueEntry) *fakeQueue {
	return &fakeQueue{
		batch:           batch,
		claimed:         make(map[string]bool),
		deleted:         make(map[string]bool),
		failed:          make(map[string]string),
		claimInFlightOK: true,
	}
}

func (q *fakeQueue) Insert(ctx context.Context, entry *domain.QueueEntry) error { return nil }

func (q *fakeQueue) NextBatchForDispatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if limit < len(q.batch) {
		return q.batch[:limit], nil
	}
	return q.batch, nil
}

func (q *fakeQueue) ClaimInFlight(ctx context.Context, id string, now time.Time) (bool, error) {
	q.claimed[id] = true
	return q.claimInFlightOK, nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, id string, lastError string) error {
	q.failed[id] = lastError
	return nil
}

func (q *fakeQueue) Delete(ctx context.Context, id string) error {
	q.deleted[id] = true
	return nil
}

func (q *fakeQueue) RecoverStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error) {
	q.recoverCalls++
	return 0, nil
}

func (q *fakeQueue) CountPending(ctx context.Context) (int64, error) { return int64(len(q.batch)), nil }

type fakeCarrier struct {
	activeCount int
	countErr    error
}

func (c *fakeCarrier) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	return telephony.CallResult{}, nil
}

func (c *fakeCarrier) TerminateCall(ctx context.Context, providerCallID string) error { return nil }

func (c *fakeCarrier) ActiveCallCount(ctx context.Context) (int, error) {
	return c.activeCount, c.countErr
}

type fakeCache struct {
	setCount      int
	claimed       int
	released      int
	claimSlotFail bool
}

func (c *fakeCache) Set(ctx context.Context, count int) error {
	c.setCount = count
	return nil
}

func (c *fakeCache) ClaimSlot(ctx context.Context, limit int) (bool, error) {
	c.claimed++
	return !c.claimSlotFail, nil
}

func (c *fakeCache) ReleaseSlot(ctx context.Context) error {
	c.released++
	return nil
}

type fakeInitiator struct {
	failFor map[string]bool
	calls   []string
}

func (i *fakeInitiator) Initiate(ctx context.Context, entry domain.QueueEntry) error {
	i.calls = append(i.calls, entry.ID)
	if i.failFor[entry.ID] {
		return errInitiate
	}
	return nil
}

var errInitiate = &initiateError{"initiation failed"}

type initiateError struct{ msg string }

func (e *initiateError) Error() string { return e.msg }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return lg
}

func TestTickDispatchesWithinCapacity(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1", ContactID: "contact-1", Phone: "+15551230000"}
	queue := newFakeQueue([]domain.QueueEntry{entry})
	carrier := &fakeCarrier{activeCount: 1}
	cache := &fakeCache{}
	init := &fakeInitiator{failFor: map[string]bool{}}

	s := New(queue, carrier, cache, init, nil, config.SchedulerConfig{MaxActiveCalls: 3}, config.RecoveryConfig{}, testLogger(t))

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(init.calls) != 1 || init.calls[0] != "entry-1" {
		t.Fatalf("expected entry-1 to be initiated, got %v", init.calls)
	}
	if !queue.deleted["entry-1"] {
		t.Fatalf("expected entry-1 to be deleted from the queue after success")
	}
	if cache.released != 1 {
		t.Fatalf("expected the claimed slot to be released, got %d releases", cache.released)
	}
}

func TestTickSkipsDispatchWhenCapacityExhausted(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1", ContactID: "contact-1"}
	queue := newFakeQueue([]domain.QueueEntry{entry})
	carrier := &fakeCarrier{activeCount: 3}
	cache := &fakeCache{}
	init := &fakeInitiator{failFor: map[string]bool{}}

	s := New(queue, carrier, cache, init, nil, config.SchedulerConfig{MaxActiveCalls: 3}, config.RecoveryConfig{}, testLogger(t))

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(init.calls) != 0 {
		t.Fatalf("expected no dispatch when capacity is exhausted, got %v", init.calls)
	}
}

func TestTickFallsBackToCapWhenCarrierCountFails(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1"}
	queue := newFakeQueue([]domain.QueueEntry{entry})
	carrier := &fakeCarrier{countErr: errInitiate}
	cache := &fakeCache{}
	init := &fakeInitiator{failFor: map[string]bool{}}

	s := New(queue, carrier, cache, init, nil, config.SchedulerConfig{MaxActiveCalls: 3}, config.RecoveryConfig{}, testLogger(t))

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(init.calls) != 0 {
		t.Fatalf("expected no dispatch when the carrier count query fails and the cap is assumed used")
	}
	if cache.setCount != 0 {
		t.Fatalf("cache should not be refreshed when the carrier query failed")
	}
}

func TestDispatchMarksFailedAndReleasesSlotOnInitiationError(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1", ContactID: "contact-1"}
	queue := newFakeQueue(nil)
	cache := &fakeCache{}
	init := &fakeInitiator{failFor: map[string]bool{"entry-1": true}}

	s := New(queue, &fakeCarrier{}, cache, init, nil, config.SchedulerConfig{}, config.RecoveryConfig{}, testLogger(t))

	s.dispatch(context.Background(), entry, 1)

	if _, ok := queue.failed["entry-1"]; !ok {
		t.Fatalf("expected entry-1 to be marked failed")
	}
	if queue.deleted["entry-1"] {
		t.Fatalf("a failed initiation must not delete the queue entry")
	}
	if cache.released != 1 {
		t.Fatalf("expected the slot to be released after a failed initiation")
	}
}

func TestDispatchSkipsWhenSlotClaimFails(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1"}
	queue := newFakeQueue(nil)
	cache := &fakeCache{claimSlotFail: true}
	init := &fakeInitiator{failFor: map[string]bool{}}

	s := New(queue, &fakeCarrier{}, cache, init, nil, config.SchedulerConfig{}, config.RecoveryConfig{}, testLogger(t))

	s.dispatch(context.Background(), entry, 1)

	if len(init.calls) != 0 {
		t.Fatalf("expected no initiation when the slot claim is denied")
	}
	if queue.claimed["entry-1"] {
		t.Fatalf("must not attempt to claim in-flight without a slot")
	}
}

func TestDispatchReleasesSlotWhenInFlightClaimLost(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1"}
	queue := newFakeQueue(nil)
	queue.claimInFlightOK = false
	cache := &fakeCache{}
	init := &fakeInitiator{failFor: map[string]bool{}}

	s := New(queue, &fakeCarrier{}, cache, init, nil, config.SchedulerConfig{}, config.RecoveryConfig{}, testLogger(t))

	s.dispatch(context.Background(), entry, 1)

	if len(init.calls) != 0 {
		t.Fatalf("expected no initiation when another claimant won the in-flight race")
	}
	if cache.released != 1 {
		t.Fatalf("expected the slot to be released when the in-flight claim is lost")
	}
}

func TestRecoverStaleInFlightDelegatesToQueue(t *testing.T) {
	queue := newFakeQueue(nil)
	s := New(queue, &fakeCarrier{}, &fakeCache{}, &fakeInitiator{}, nil, config.SchedulerConfig{}, config.RecoveryConfig{StaleThreshold: time.Minute}, testLogger(t))

	if _, err := s.RecoverStaleInFlight(context.Background()); err != nil {
		t.Fatalf("RecoverStaleInFlight: %v", err)
	}
	if queue.recoverCalls != 1 {
		t.Fatalf("expected RecoverStaleInFlight to delegate to the queue repository once")
	}
}

// TestTickAndDispatchToleratesDisabledCache exercises the Redis-disabled
// deployment, where the container wires a nil *activecalls.Cache in as the
// slotCache. None of Set/ClaimSlot/ReleaseSlot should panic, and dispatch
// should proceed using the carrier's own count as the sole capacity check.
func TestTickAndDispatchToleratesDisabledCache(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1", ContactID: "contact-1", Phone: "+15551230000"}
	queue := newFakeQueue([]domain.QueueEntry{entry})
	carrier := &fakeCarrier{activeCount: 1}
	init := &fakeInitiator{failFor: map[string]bool{}}

	var disabledCache *activecalls.Cache

	s := New(queue, carrier, disabledCache, init, nil, config.SchedulerConfig{MaxActiveCalls: 3}, config.RecoveryConfig{}, testLogger(t))

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick with disabled cache: %v", err)
	}

	if len(init.calls) != 1 || init.calls[0] != "entry-1" {
		t.Fatalf("expected entry-1 to be initiated even with the cache disabled, got %v", init.calls)
	}
	if !queue.deleted["entry-1"] {
		t.Fatalf("expected entry-1 to be deleted from the queue after success")
	}
}

func TestDispatchToleratesDisabledCacheOnInitiationFailure(t *testing.T) {
	entry := domain.QueueEntry{ID: "entry-1", ContactID: "contact-1"}
	queue := newFakeQueue(nil)
	init := &fakeInitiator{failFor: map[string]bool{"entry-1": true}}

	var disabledCache *activecalls.Cache

	s := New(queue, &fakeCarrier{}, disabledCache, init, nil, config.SchedulerConfig{}, config.RecoveryConfig{}, testLogger(t))

	s.dispatch(context.Background(), entry, 1)

	if _, ok := queue.failed["entry-1"]; !ok {
		t.Fatalf("expected entry-1 to be marked failed")
	}
}
