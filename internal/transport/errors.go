package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration        = errors.New("transport: invalid configuration")
	ErrPlaintextNotAllowed  = errors.New("transport: plaintext http not allowed for host")
	ErrTimeout              = errors.New("transport: request timeout")
	ErrNetwork              = errors.New("transport: network failure")
	ErrRetriesExhausted     = errors.New("transport: retries exhausted")
	ErrUnsupportedURLScheme = errors.New("transport: unsupported url scheme")
)

// HTTPError reports a non-success status from the control server.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("transport: http status %d", e.Status)
}

// Retryable reports whether a failed call may be attempted again:
// network failures, timeouts, 5xx responses, and 429.
func Retryable(err error) bool {
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == 429
	}
	return false
}
