// Package mock simulates the AI agent's signed-URL issuance for local
// development and tests, in place of a real agent account.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/agent"
)

// Provider returns a synthetic signed URL on every call.
type Provider struct {
	rng *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider() *Provider {
	return &Provider{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// FetchSignedURL simulates agent signed-URL issuance.
func (p *Provider) FetchSignedURL(ctx context.Context) (agent.SignedURL, error) {
	select {
	case <-ctx.Done():
		return agent.SignedURL{}, ctx.Err()
	default:
	}
	return agent.SignedURL{URL: fmt.Sprintf("wss://mock-agent.local/v1/convai/conversation?token=%016x", p.rng.Int63())}, nil
}

var _ agent.Provider = (*Provider)(nil)
