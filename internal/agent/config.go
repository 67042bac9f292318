package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManageCommand/managecommand/internal/security"
	"github.com/ManageCommand/managecommand/internal/transport"
)

var (
	ErrConfiguration        = errors.New("agent: invalid configuration")
	ErrHeartbeatTooFrequent = errors.New("agent: heartbeat interval below minimum")
)

// MinHeartbeatInterval is the floor for the heartbeat cadence. Anything
// faster is treated as a misconfiguration, not clamped.
const MinHeartbeatInterval = 5 * time.Second

const defaultMaxOutputBytes = 64 << 10

// Config is the immutable agent configuration, loaded once at startup.
type Config struct {
	AgentID           string
	ServerURL         string
	APIKey            string
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	MaxRetries        int
	AllowHTTPHosts    []string
	TLSCAFile         string
	Security          security.Config

	// MaxOutputBytes caps captured command output per execution.
	MaxOutputBytes int

	// ReconnectAfterFailures is the consecutive-cycle failure count that
	// sends the loop back through registration.
	ReconnectAfterFailures int
}

func DefaultConfig() Config {
	return Config{
		AgentID:           "agent.local",
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    15 * time.Second,
		MaxRetries:        3,
		Security: security.Config{
			DisallowedCommands: security.DefaultDisallowedCommands(),
		},
		MaxOutputBytes:         defaultMaxOutputBytes,
		ReconnectAfterFailures: 3,
	}
}

// Validate enforces startup invariants. Failures here are fatal and never
// retried.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("%w: server url required", ErrConfiguration)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: api key required", ErrConfiguration)
	}
	if c.HeartbeatInterval < MinHeartbeatInterval {
		return fmt.Errorf("%w: %v < %v", ErrHeartbeatTooFrequent, c.HeartbeatInterval, MinHeartbeatInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrConfiguration)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrConfiguration)
	}
	return nil
}

func (c Config) transportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.ServerURL = c.ServerURL
	tc.APIKey = c.APIKey
	tc.RequestTimeout = c.RequestTimeout
	tc.MaxRetries = c.MaxRetries
	tc.AllowHTTPHosts = append([]string(nil), c.AllowHTTPHosts...)
	tc.TLSCAFile = c.TLSCAFile
	return tc
}
