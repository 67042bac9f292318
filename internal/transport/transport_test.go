package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManageCommand/managecommand/internal/testutil/testlog"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     time.Millisecond,
		Jitter:       false,
	}
}

func testClient(t *testing.T, serverURL string, maxRetries int) *Client {
	t.Helper()
	host := hostnameOf(t, serverURL)
	client, err := NewClient(Config{
		ServerURL:      serverURL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     maxRetries,
		AllowHTTPHosts: []string{host},
		Backoff:        fastBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func hostnameOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Hostname()
}

func TestSendCarriesBearerCredential(t *testing.T) {
	testlog.Start(t)
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 0)
	if _, err := client.Send(context.Background(), http.MethodGet, "/api/ping", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth, _ := gotAuth.Load().(string); auth != "Bearer test-key" {
		t.Fatalf("unexpected authorization header: %q", auth)
	}
}

func TestSendRetriesUpToMaxOn5xx(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 3)
	_, err := client.Send(context.Background(), http.MethodGet, "/api/ping", nil)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	// initial attempt plus max-retries retries
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 requests, got %d", got)
	}
}

func TestSendRecoversWithinRetryBudget(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 3)
	resp, err := client.Send(context.Background(), http.MethodPost, "/api/report", map[string]string{"id": "42"})
	if err != nil {
		t.Fatalf("send should succeed on third attempt: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 3)
	_, err := client.Send(context.Background(), http.MethodGet, "/api/ping", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("403 must not be retried, saw %d requests", got)
	}
}

func TestSendRetries429LikeServerError(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 2)
	if _, err := client.Send(context.Background(), http.MethodGet, "/api/ping", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("429 should be retried once, saw %d requests", got)
	}
}

func TestSendRetriesTimeouts(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	host := hostnameOf(t, srv.URL)
	client, err := NewClient(Config{
		ServerURL:      srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 20 * time.Millisecond,
		MaxRetries:     1,
		AllowHTTPHosts: []string{host},
		Backoff:        fastBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Send(context.Background(), http.MethodGet, "/api/ping", nil)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestPlaintextHostOutsideAllowlistFailsBeforeDial(t *testing.T) {
	testlog.Start(t)
	_, err := NewClient(Config{
		ServerURL: "http://commands.example.com/api",
		APIKey:    "test-key",
	})
	if !errors.Is(err, ErrPlaintextNotAllowed) {
		t.Fatalf("expected ErrPlaintextNotAllowed, got %v", err)
	}
}

func TestPlaintextAllowedForAllowlistedHost(t *testing.T) {
	testlog.Start(t)
	_, err := NewClient(Config{
		ServerURL:      "http://localhost:8000",
		APIKey:         "test-key",
		AllowHTTPHosts: []string{"localhost"},
	})
	if err != nil {
		t.Fatalf("allowlisted plaintext host should pass: %v", err)
	}
}

func TestNewClientRejectsMissingConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := NewClient(Config{APIKey: "k"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing url should be a configuration error, got %v", err)
	}
	if _, err := NewClient(Config{ServerURL: "https://example.com"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing api key should be a configuration error, got %v", err)
	}
	if _, err := NewClient(Config{ServerURL: "ftp://example.com", APIKey: "k"}); !errors.Is(err, ErrUnsupportedURLScheme) {
		t.Fatalf("ftp scheme should be rejected, got %v", err)
	}
}

func TestSendStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := testClient(t, srv.URL, 5)
	_, err := client.Send(ctx, http.MethodGet, "/api/ping", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	testlog.Start(t)
	var out struct {
		Count int `json:"count"`
	}
	if err := DecodeJSON(Response{Body: []byte(`{"count": 3}`)}, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 3 {
		t.Fatalf("unexpected count: %d", out.Count)
	}
	err := DecodeJSON(Response{Body: []byte(`{`)}, &out)
	if err == nil || !strings.Contains(err.Error(), "decode response body") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
