// Package telephony abstracts the carrier control API the initiator and
// status ingress depend on.
package telephony

import (
	"context"
	"time"
)

// CallRequest is everything the carrier needs to place an outbound call.
type CallRequest struct {
	From              string
	To                string
	CallbackURL       string
	StatusCallbackURL string
	RingTimeout       time.Duration
	CallTimeLimit     time.Duration
	StatusEvents      []string
	DetectMachine     bool
}

// CallResult is the carrier's synchronous reply to a create-call request.
type CallResult struct {
	ProviderCallID string
}

// Provider abstracts the carrier's control API.
type Provider interface {
	// PlaceCall creates a call and returns the carrier-assigned id
	// synchronously. Terminal outcomes arrive later via status callback.
	PlaceCall(ctx context.Context, req CallRequest) (CallResult, error)
	// TerminateCall asks the carrier to end an in-progress call, best
	// effort; callers must tolerate it failing silently.
	TerminateCall(ctx context.Context, providerCallID string) error
	// ActiveCallCount reports how many calls the carrier currently has
	// in flight for this account; the scheduler calls it on every tick.
	ActiveCallCount(ctx context.Context) (int, error)
}

// StandardStatusEvents is the fixed event subscription set the initiator
// requests on every call.
var StandardStatusEvents = []string{"initiated", "ringing", "answered", "completed"}
