// Package httpclient is a small retrying wrapper shared by the carrier and
// agent integrations: fixed timeout, exponential backoff between attempts
// (jittered when Policy.Jitter is set), context-aware cancellation.
package httpclient

import (
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Policy configures retry behaviour for one client instance.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// Client wraps *http.Client with the retry policy above.
type Client struct {
	inner  *http.Client
	policy Policy
	rng    *rand.Rand
}

// New constructs a Client. Zero-value policy fields fall back to sane
// defaults (3 retries, 500ms base, 10s cap, no jitter).
func New(policy Policy) *Client {
	if policy.Timeout <= 0 {
		policy.Timeout = 10 * time.Second
	}
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	return &Client{
		inner:  &http.Client{Timeout: policy.Timeout},
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// isRetryableStatus reports whether resp's status code is worth retrying:
// request timeout, rate limiting, or any server error.
func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// Do executes req, retrying on transport errors and on 408/429/5xx responses
// up to MaxRetries times. The final response (successful or not) is
// returned; callers are responsible for closing its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if isRetryableStatus(resp.StatusCode) && attempt < c.policy.MaxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = nil
			continue
		}
		return resp, nil
	}

	return nil, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	exponent := math.Pow(2, float64(attempt-1))
	delay := time.Duration(exponent) * c.policy.BaseDelay
	if delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	if c.policy.Jitter > 0 {
		fraction := c.rng.Float64()*c.policy.Jitter - (c.policy.Jitter / 2)
		delay += time.Duration(float64(delay) * fraction)
		if delay < c.policy.BaseDelay {
			delay = c.policy.BaseDelay
		}
	}
	return delay
}
