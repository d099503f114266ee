package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/httpclient"
)

// Client is the real AI agent client, fetching signed WebSocket URLs over
// the shared retrying HTTP client.
type Client struct {
	http *httpclient.Client
	cfg  config.AgentConfig
}

// NewClient constructs a Client against cfg.
func NewClient(cfg config.AgentConfig) *Client {
	return &Client{
		http: httpclient.New(httpclient.Policy{
			Timeout:    cfg.RequestTimeout,
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
		}),
		cfg: cfg,
	}
}

// FetchSignedURL requests a signed WebSocket URL for the configured agent.
func (c *Client) FetchSignedURL(ctx context.Context) (SignedURL, error) {
	url := fmt.Sprintf("%s/v1/convai/conversation/get-signed-url?agent_id=%s", c.cfg.BaseURL, c.cfg.AgentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SignedURL{}, fmt.Errorf("agent client: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return SignedURL{}, fmt.Errorf("agent client: fetch signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return SignedURL{}, fmt.Errorf("agent client: fetch signed url: status %d", resp.StatusCode)
	}

	var body struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SignedURL{}, fmt.Errorf("agent client: decode response: %w", err)
	}

	return SignedURL{URL: body.SignedURL}, nil
}

var _ Provider = (*Client)(nil)
