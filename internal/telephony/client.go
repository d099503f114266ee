package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/httpclient"
)

// Client is the real carrier control API client, protected by a circuit
// breaker so a flaky carrier cannot stall every scheduler tick behind it.
type Client struct {
	http    *httpclient.Client
	breaker *gobreaker.CircuitBreaker
	cfg     config.CarrierConfig
}

// NewClient constructs a Client against cfg.
func NewClient(cfg config.CarrierConfig) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "carrier",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.CircuitMaxFailures
		},
	})

	return &Client{
		http: httpclient.New(httpclient.Policy{
			Timeout:    cfg.RequestTimeout,
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
		}),
		breaker: breaker,
		cfg:     cfg,
	}
}

// PlaceCall creates a call against the carrier's control API.
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (CallResult, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		form := url.Values{}
		form.Set("From", req.From)
		form.Set("To", req.To)
		form.Set("Url", req.CallbackURL)
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("Timeout", fmt.Sprintf("%d", int(req.RingTimeout.Seconds())))
		form.Set("TimeLimit", fmt.Sprintf("%d", int(req.CallTimeLimit.Seconds())))
		form.Set("StatusCallbackEvent", strings.Join(req.StatusEvents, " "))
		if req.DetectMachine {
			form.Set("MachineDetection", "DetectMessageEnd")
			form.Set("AsyncAmd", "true")
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/Calls.json", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("carrier client: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("carrier client: place call: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("carrier client: place call: status %d", resp.StatusCode)
		}

		var body struct {
			SID string `json:"sid"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("carrier client: decode response: %w", err)
		}
		return CallResult{ProviderCallID: body.SID}, nil
	})
	if err != nil {
		return CallResult{}, err
	}
	return res.(CallResult), nil
}

// TerminateCall asks the carrier to end an in-progress call.
func (c *Client) TerminateCall(ctx context.Context, providerCallID string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		form := url.Values{}
		form.Set("Status", "completed")

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/Calls/%s.json", c.cfg.BaseURL, providerCallID), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("carrier client: build terminate request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("carrier client: terminate call: %w", err)
		}
		resp.Body.Close()
		return nil, nil
	})
	return err
}

// activeCallStatuses are the carrier call statuses that count against
// MAX_ACTIVE_CALLS: a call still queued or ringing occupies a slot just as
// much as one already in progress.
var activeCallStatuses = []string{"queued", "ringing", "in-progress"}

// ActiveCallCount asks the carrier how many calls are currently in flight
// for this account, across every status that occupies a dispatch slot.
func (c *Client) ActiveCallCount(ctx context.Context) (int, error) {
	total := 0
	for _, status := range activeCallStatuses {
		res, err := c.breaker.Execute(func() (any, error) {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
				c.cfg.BaseURL+"/Calls.json?Status="+status, nil)
			if err != nil {
				return nil, fmt.Errorf("carrier client: build request: %w", err)
			}
			httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

			resp, err := c.http.Do(httpReq)
			if err != nil {
				return nil, fmt.Errorf("carrier client: active call count: %w", err)
			}
			defer resp.Body.Close()

			var body struct {
				Calls []json.RawMessage `json:"calls"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return nil, fmt.Errorf("carrier client: decode response: %w", err)
			}
			return len(body.Calls), nil
		})
		if err != nil {
			return 0, err
		}
		total += res.(int)
	}
	return total, nil
}

var _ Provider = (*Client)(nil)
