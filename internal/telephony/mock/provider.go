// Package mock simulates carrier behaviour for local development and
// tests, in place of a real telephony account.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/telephony"
)

// Provider simulates the carrier control API: synchronous call creation
// with a randomized carrier-id, plus an in-memory active-call counter.
type Provider struct {
	successRate float64
	rng         *rand.Rand

	mu     sync.Mutex
	active int
}

// NewProvider constructs a mock provider with deterministic-enough
// randomness seeded from wall-clock time.
func NewProvider() *Provider {
	return &Provider{
		successRate: 0.8,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceCall simulates carrier call creation.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	select {
	case <-ctx.Done():
		return telephony.CallResult{}, ctx.Err()
	default:
	}

	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	id := fmt.Sprintf("CA%016x", p.rng.Int63())
	return telephony.CallResult{ProviderCallID: id}, nil
}

// TerminateCall simulates ending a call, decrementing the active count.
func (p *Provider) TerminateCall(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	if p.active > 0 {
		p.active--
	}
	p.mu.Unlock()
	return nil
}

// ActiveCallCount returns the in-memory simulated count.
func (p *Provider) ActiveCallCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, nil
}

var _ telephony.Provider = (*Provider)(nil)
