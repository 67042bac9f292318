// Package transport is the HTTP client boundary between the agent and the
// control server: bearer credential, per-request timeout, bounded
// retry-with-backoff, and the plaintext-HTTP host policy.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManageCommand/managecommand/internal/logging"
)

const maxResponseBytes = 1 << 20

// Config defines one client connection to the control server.
type Config struct {
	ServerURL      string
	APIKey         string
	RequestTimeout time.Duration
	MaxRetries     int
	AllowHTTPHosts []string
	Backoff        BackoffConfig

	// TLSCAFile, when set, pins server verification to a private CA bundle
	// instead of the system roots.
	TLSCAFile string
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout: 15 * time.Second,
		MaxRetries:     3,
		Backoff:        DefaultBackoffConfig(),
	}
}

// Response is a completed 2xx exchange with the server.
type Response struct {
	Status int
	Body   []byte
}

// Client issues authenticated JSON requests against one server base URL.
// Safe for use from a single control loop; it keeps no request state.
type Client struct {
	base       *url.URL
	apiKey     string
	timeout    time.Duration
	maxRetries int
	backoff    BackoffConfig
	httpClient *http.Client
	rng        *rand.Rand
	log        zerolog.Logger
}

// NewClient validates transport configuration and constructs a client.
// A plaintext base URL whose host is not allowlisted fails here, before
// any network activity can happen.
func NewClient(cfg Config) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.ServerURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: server url required", ErrConfiguration)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key required", ErrConfiguration)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse server url: %v", ErrConfiguration, err)
	}
	if err := validateScheme(base, cfg.AllowHTTPHosts); err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := cfg.Backoff
	if backoff.InitialDelay <= 0 {
		backoff = DefaultBackoffConfig()
	}

	httpClient := &http.Client{}
	if caFile := strings.TrimSpace(cfg.TLSCAFile); caFile != "" {
		pool, err := loadCAPool(caFile)
		if err != nil {
			return nil, err
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	return &Client{
		base:       base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		timeout:    timeout,
		maxRetries: retries,
		backoff:    backoff,
		httpClient: httpClient,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logging.Component("transport"),
	}, nil
}

// validateScheme enforces the allow/deny-HTTP policy: https always passes,
// plaintext http only for allowlisted hostnames. Fail-closed, never a
// silent upgrade or downgrade.
func validateScheme(base *url.URL, allowHTTPHosts []string) error {
	switch base.Scheme {
	case "https":
		return nil
	case "http":
		host := base.Hostname()
		for _, allowed := range allowHTTPHosts {
			if strings.TrimSpace(allowed) == host {
				return nil
			}
		}
		return fmt.Errorf("%w: %q", ErrPlaintextNotAllowed, host)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedURLScheme, base.Scheme)
	}
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read tls ca file: %v", ErrConfiguration, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrConfiguration, path)
	}
	return pool, nil
}

// Send issues one logical request, retrying transient failures up to the
// configured max-retry count with exponential backoff. Client errors other
// than 429 are returned immediately.
func (c *Client) Send(ctx context.Context, method, path string, body any) (Response, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("transport: encode request body: %w", err)
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := c.sendOnce(ctx, method, path, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if !Retryable(err) {
			return Response{}, err
		}
		if attempt > c.maxRetries {
			return Response{}, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, lastErr)
		}

		c.log.Warn().
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt).
			Err(err).
			Msg("request failed, retrying")

		delay := NextBackoffDelay(c.backoff, attempt, c.rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) sendOnce(ctx context.Context, method, path string, payload []byte) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base.JoinPath(path)
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target.String(), reader)
	if err != nil {
		return Response{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}
	return Response{Status: resp.StatusCode, Body: data}, nil
}

func classifyRequestError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// DecodeJSON unmarshals a response body into out.
func DecodeJSON(resp Response, out any) error {
	if len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("transport: decode response body: %w", err)
	}
	return nil
}
