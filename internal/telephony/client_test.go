package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/acme/outbound-voice-orchestrator/internal/config"
)

func testConfig(baseURL string) config.CarrierConfig {
	return config.CarrierConfig{
		BaseURL:            baseURL,
		AccountSID:         "AC_test",
		AuthToken:          "token",
		RequestTimeout:     2 * time.Second,
		MaxRetries:         1,
		CircuitMaxFailures: 5,
	}
}

func TestActiveCallCountSumsAllOccupyingStatuses(t *testing.T) {
	counts := map[string]int{"queued": 2, "ringing": 1, "in-progress": 3}
	seen := map[string]bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("Status")
		seen[status] = true

		n := counts[status]
		calls := make([]string, n)
		for i := range calls {
			calls[i] = `{}`
		}
		w.Header().Set("Content-Type", "application/json")
		body := `{"calls":[`
		for i, c := range calls {
			if i > 0 {
				body += ","
			}
			body += c
		}
		body += `]}`
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	total, err := client.ActiveCallCount(context.Background())
	if err != nil {
		t.Fatalf("ActiveCallCount: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 (2+1+3 across queued/ringing/in-progress), got %d", total)
	}
	for _, status := range []string{"queued", "ringing", "in-progress"} {
		if !seen[status] {
			t.Fatalf("expected a query for status %q, none observed", status)
		}
	}
}

func TestActiveCallCountPropagatesCarrierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	if _, err := client.ActiveCallCount(context.Background()); err == nil {
		t.Fatalf("expected an error when the carrier returns a failure status")
	}
}

func TestPlaceCallSendsExpectedFormParameters(t *testing.T) {
	var gotForm url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.Form
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sid":"CA123"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))

	result, err := client.PlaceCall(context.Background(), CallRequest{
		From:          "+15550000000",
		To:            "+15551230000",
		RingTimeout:   25 * time.Second,
		CallTimeLimit: 900 * time.Second,
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if result.ProviderCallID != "CA123" {
		t.Fatalf("expected provider call id CA123, got %q", result.ProviderCallID)
	}
	if gotForm.Get("From") != "+15550000000" || gotForm.Get("To") != "+15551230000" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
	if gotForm.Get("Timeout") != "25" || gotForm.Get("TimeLimit") != "900" {
		t.Fatalf("unexpected ring/time-limit params: %v", gotForm)
	}
}
