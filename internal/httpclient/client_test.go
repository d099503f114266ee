package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func countingServer(t *testing.T, failures int, failStatus int) (*httptest.Server, *int) {
	t.Helper()
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= failures {
			w.WriteHeader(failStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return srv, &attempts
}

func TestDoRetriesOnRequestTimeoutStatus(t *testing.T) {
	srv, attempts := countingServer(t, 1, http.StatusRequestTimeout)
	defer srv.Close()

	client := New(testPolicy())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", resp.StatusCode)
	}
	if *attempts != 2 {
		t.Fatalf("expected a retry after 408, got %d attempts", *attempts)
	}
}

func TestDoRetriesOnTooManyRequestsStatus(t *testing.T) {
	srv, attempts := countingServer(t, 1, http.StatusTooManyRequests)
	defer srv.Close()

	client := New(testPolicy())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", resp.StatusCode)
	}
	if *attempts != 2 {
		t.Fatalf("expected a retry after 429, got %d attempts", *attempts)
	}
}

func TestDoRetriesOnServerError(t *testing.T) {
	srv, attempts := countingServer(t, 1, http.StatusInternalServerError)
	defer srv.Close()

	client := New(testPolicy())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", resp.StatusCode)
	}
	if *attempts != 2 {
		t.Fatalf("expected a retry after 500, got %d attempts", *attempts)
	}
}

func TestDoDoesNotRetryOtherClientErrors(t *testing.T) {
	srv, attempts := countingServer(t, 100, http.StatusNotFound)
	defer srv.Close()

	client := New(testPolicy())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 to be returned as-is, got %d", resp.StatusCode)
	}
	if *attempts != 1 {
		t.Fatalf("expected no retry on 404, got %d attempts", *attempts)
	}
}

func TestDoExhaustsRetriesAndReturnsFinalFailureResponse(t *testing.T) {
	srv, attempts := countingServer(t, 100, http.StatusTooManyRequests)
	defer srv.Close()

	client := New(testPolicy())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected the final 429 to be returned once retries are exhausted, got %d", resp.StatusCode)
	}
	if *attempts != testPolicy().MaxRetries+1 {
		t.Fatalf("expected MaxRetries+1 attempts, got %d", *attempts)
	}
}

func TestNewAppliesFallbackBackoffWhenUnset(t *testing.T) {
	client := New(Policy{})

	if client.policy.BaseDelay != 500*time.Millisecond {
		t.Fatalf("expected fallback base delay of 500ms, got %v", client.policy.BaseDelay)
	}
	if client.policy.MaxDelay != 10*time.Second {
		t.Fatalf("expected fallback max delay of 10s, got %v", client.policy.MaxDelay)
	}
}

func TestNewHonorsConfiguredBackoff(t *testing.T) {
	client := New(Policy{BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second})

	if client.policy.BaseDelay != 2*time.Second {
		t.Fatalf("expected configured base delay of 2s, got %v", client.policy.BaseDelay)
	}
	if client.policy.MaxDelay != 15*time.Second {
		t.Fatalf("expected configured max delay of 15s, got %v", client.policy.MaxDelay)
	}
}
