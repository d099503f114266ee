package initiator

import (
	"context"
	"errors"
	"testing"

	"github.com/acme/outbound-voice-orchestrator/internal/agent"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

type fakeCarrier struct {
	placeErr error
	result   telephony.CallResult
	lastReq  telephony.CallRequest
}

func (c *fakeCarrier) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	c.lastReq = req
	if c.placeErr != nil {
		return telephony.CallResult{}, c.placeErr
	}
	return c.result, nil
}

func (c *fakeCarrier) TerminateCall(ctx context.Context, providerCallID string) error { return nil }
func (c *fakeCarrier) ActiveCallCount(ctx context.Context) (int, error)               { return 0, nil }

type fakeAgent struct {
	url string
	err error
}

func (a *fakeAgent) FetchSignedURL(ctx context.Context) (agent.SignedURL, error) {
	if a.err != nil {
		return agent.SignedURL{}, a.err
	}
	return agent.SignedURL{URL: a.url}, nil
}

type fakeCallStates struct {
	states   map[string]*domain.CallState
	getErr   error
	putErr   error
	getCalls int
}

func newFakeCallStates() *fakeCallStates {
	return &fakeCallStates{states: make(map[string]*domain.CallState)}
}

func (f *fakeCallStates) Get(ctx context.Context, callID string) (*domain.CallState, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.states[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (f *fakeCallStates) Put(ctx context.Context, state *domain.CallState) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.states[state.CallID] = state
	return nil
}

func (f *fakeCallStates) UpdateAnsweredBy(ctx context.Context, callID string, answeredBy domain.AnsweredBy) error {
	f.states[callID].AnsweredBy = answeredBy
	return nil
}

func (f *fakeCallStates) UpdateStatus(ctx context.Context, callID string, status domain.CallStatus) error {
	f.states[callID].Status = status
	return nil
}

func (f *fakeCallStates) UpdateConversationID(ctx context.Context, callID string, conversationID string) error {
	f.states[callID].ConversationID = conversationID
	return nil
}

func (f *fakeCallStates) SetRetryScheduled(ctx context.Context, callID string) (bool, error) {
	if f.states[callID].RetryScheduled {
		return false, nil
	}
	f.states[callID].RetryScheduled = true
	return true, nil
}

func (f *fakeCallStates) CountInFlight(ctx context.Context) (int64, error) {
	return int64(len(f.states)), nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return lg
}

func TestInitiatePlacesCallAndPersistsState(t *testing.T) {
	carrier := &fakeCarrier{result: telephony.CallResult{ProviderCallID: "CA123"}}
	agentProv := &fakeAgent{url: "wss://agent.example/socket"}
	callStates := newFakeCallStates()

	init := New(carrier, agentProv, callStates, nil, nil, nil,
		config.CarrierConfig{SourcePhone: "+15550000000"},
		config.AppConfig{PublicURL: "https://example.com", RoutePrefix: "/v1"},
		testLogger(t),
	)

	entry := domain.QueueEntry{
		ID: "entry-1", ContactID: "contact-1", Phone: "+15551230000",
		FirstName: "Ada", AttemptIndex: 0,
	}

	if err := init.Initiate(context.Background(), entry); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	state, ok := callStates.states["CA123"]
	if !ok {
		t.Fatalf("expected call state CA123 to be persisted")
	}
	if state.SignedURL != "wss://agent.example/socket" {
		t.Fatalf("expected fetched signed url to be recorded, got %q", state.SignedURL)
	}
	if state.ContactID != "contact-1" || state.Status != domain.CallStatusInitiated {
		t.Fatalf("unexpected state: %+v", state)
	}
	if carrier.lastReq.To != "+15551230000" || carrier.lastReq.From != "+15550000000" {
		t.Fatalf("unexpected carrier request: %+v", carrier.lastReq)
	}
}

func TestInitiateReusesPreFetchedSignedURL(t *testing.T) {
	carrier := &fakeCarrier{result: telephony.CallResult{ProviderCallID: "CA999"}}
	agentProv := &fakeAgent{err: errors.New("should not be called")}
	callStates := newFakeCallStates()

	init := New(carrier, agentProv, callStates, nil, nil, nil,
		config.CarrierConfig{}, config.AppConfig{}, testLogger(t))

	entry := domain.QueueEntry{ID: "entry-1", InitialSignedURL: "wss://cached/socket"}

	if err := init.Initiate(context.Background(), entry); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if callStates.states["CA999"].SignedURL != "wss://cached/socket" {
		t.Fatalf("expected the pre-fetched signed url to be reused without calling the agent provider")
	}
}

func TestInitiatePropagatesCarrierError(t *testing.T) {
	carrier := &fakeCarrier{placeErr: errors.New("carrier unavailable")}
	agentProv := &fakeAgent{url: "wss://agent.example/socket"}
	callStates := newFakeCallStates()

	init := New(carrier, agentProv, callStates, nil, nil, nil,
		config.CarrierConfig{}, config.AppConfig{}, testLogger(t))

	entry := domain.QueueEntry{ID: "entry-1"}
	if err := init.Initiate(context.Background(), entry); err == nil {
		t.Fatalf("expected an error when the carrier rejects the call")
	}
	if len(callStates.states) != 0 {
		t.Fatalf("no call state should be persisted when the carrier call fails")
	}
}

func TestInitiateDoesNotDeleteOrMutateQueueEntry(t *testing.T) {
	carrier := &fakeCarrier{result: telephony.CallResult{ProviderCallID: "CA1"}}
	agentProv := &fakeAgent{url: "wss://agent.example/socket"}
	callStates := newFakeCallStates()

	init := New(carrier, agentProv, callStates, nil, nil, nil,
		config.CarrierConfig{}, config.AppConfig{}, testLogger(t))

	entry := domain.QueueEntry{ID: "entry-1", Status: domain.QueueEntryInFlight}

	if err := init.Initiate(context.Background(), entry); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if entry.ID != "entry-1" || entry.Status != domain.QueueEntryInFlight {
		t.Fatalf("Initiate must not mutate the queue entry it was given, got %+v", entry)
	}
}
