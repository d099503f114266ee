// Package notifier is a fire-and-forget chat webhook sink: failures here
// must never affect a core operation's outcome, so every error is logged
// and dropped, never returned to a caller that could act on it.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// Notification is the structured payload posted to the webhook.
type Notification struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id"`
	ContactID string    `json:"contact_id"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier posts Notification payloads to a configured webhook URL,
// rate-limited so a burst of core events cannot drive outbound request
// volume unbounded.
type Notifier struct {
	webhookURL string
	http       *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// New constructs a Notifier. An empty webhook URL makes Notify a no-op.
func New(cfg config.NotifierConfig, lg *logger.Logger) *Notifier {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     lg,
	}
}

// Notify posts n to the webhook if the rate limiter allows it. Allow(), not
// Wait(), is used deliberately: a saturated limiter drops the event instead
// of blocking the caller's critical path.
func (n *Notifier) Notify(ctx context.Context, notification Notification) {
	if n == nil || n.webhookURL == "" {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warn("notifier: rate limited, dropping event")
		return
	}

	body, err := json.Marshal(notification)
	if err != nil {
		n.logger.Warn("notifier: marshal failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("notifier: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Warn("notifier: post failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("notifier: webhook returned non-2xx")
	}
}
