// Package agent abstracts the AI voice agent's signed-URL issuance, the one
// dependency the initiator and the media bridge both need before a call can
// be bridged to the agent's realtime WebSocket endpoint.
package agent

import "context"

// SignedURL is a short-lived WebSocket URL the bridge connects to. It carries
// no issue or expiry time.
type SignedURL struct {
	URL string
}

// Provider issues signed WebSocket URLs for a configured agent.
type Provider interface {
	// FetchSignedURL returns a fresh signed URL for the configured agent.
	// Callers are expected to retry with a fresh fetch if a cached URL's
	// connection attempt fails, rather than treating this call itself as
	// retryable state.
	FetchSignedURL(ctx context.Context) (SignedURL, error)
}
