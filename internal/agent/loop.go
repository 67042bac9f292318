// Package agent owns the control loop: registration with the control
// server, heartbeat cadence, execution polling, the security gate in front
// of every run, and result reporting.
package agent

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManageCommand/managecommand/internal/catalog"
	"github.com/ManageCommand/managecommand/internal/logging"
	"github.com/ManageCommand/managecommand/internal/security"
	"github.com/ManageCommand/managecommand/internal/transport"
)

// Version is reported to the server with every heartbeat.
const Version = "0.1.0"

// State is the observable control-loop phase.
type State string

const (
	StateInitializing State = "initializing"
	StateRegistered   State = "registered"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Agent drives a single sequential control loop against one server.
type Agent struct {
	cfg     Config
	policy  *security.Policy
	client  *serverClient
	catalog catalog.Catalog
	log     zerolog.Logger

	outbox *ReportOutbox

	mu        sync.Mutex
	state     State
	filtered  []catalog.Descriptor
	hash      string
	inflight  map[string]struct{}
	completed map[string]ExecutionResult
}

// New validates configuration and constructs the agent. Configuration
// failures here are fatal to startup and are never retried.
func New(cfg Config, cat catalog.Catalog) (*Agent, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: catalog required", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tc, err := transport.NewClient(cfg.transportConfig())
	if err != nil {
		return nil, err
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.ReconnectAfterFailures <= 0 {
		cfg.ReconnectAfterFailures = DefaultConfig().ReconnectAfterFailures
	}
	agentID := strings.TrimSpace(cfg.AgentID)
	if agentID == "" {
		agentID = DefaultConfig().AgentID
	}
	cfg.AgentID = agentID

	return &Agent{
		cfg:       cfg,
		policy:    security.New(cfg.Security),
		client:    newServerClient(agentID, tc),
		catalog:   cat,
		log:       logging.Component("agent").With().Str("agent_id", agentID).Logger(),
		outbox:    NewReportOutbox(),
		state:     StateInitializing,
		inflight:  make(map[string]struct{}),
		completed: make(map[string]ExecutionResult),
	}, nil
}

// State reports the current control-loop phase.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Outbox exposes pending result reports for inspection.
func (a *Agent) Outbox() *ReportOutbox {
	return a.outbox
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// refreshCatalog lists host commands and applies sync-time filtering: a
// command denied by policy is never advertised to the server. This is a
// UI courtesy, not the security boundary; the execution-time gate stands
// regardless.
func (a *Agent) refreshCatalog() error {
	all, err := a.catalog.List()
	if err != nil {
		return fmt.Errorf("agent: list commands: %w", err)
	}
	filtered := make([]catalog.Descriptor, 0, len(all))
	for _, d := range all {
		if decision := a.policy.Evaluate(d.Name); decision.Allowed {
			filtered = append(filtered, d)
		}
	}
	catalog.SortDescriptors(filtered)
	hash := catalog.Hash(filtered)

	a.mu.Lock()
	a.filtered = filtered
	a.hash = hash
	a.mu.Unlock()

	a.log.Debug().Int("advertised", len(filtered)).Int("total", len(all)).Msg("catalog refreshed")
	return nil
}

// Register performs the one-time handshake: sync the filtered catalog to
// the server. Transport retries apply underneath; an error here means
// retries were exhausted.
func (a *Agent) Register(ctx context.Context) error {
	if err := a.refreshCatalog(); err != nil {
		return err
	}
	a.mu.Lock()
	commands, hash := a.filtered, a.hash
	a.mu.Unlock()

	resp, err := a.client.SyncCommands(ctx, commands, hash)
	if err != nil {
		return err
	}
	a.setState(StateRegistered)
	a.log.Info().Int("synced", resp.SyncedCount).Str("hash", shortHash(hash)).Msg("registered with server")
	return nil
}

// RunOnce performs a single control cycle: heartbeat, catalog resync if the
// server reports drift, poll, execute, report. Useful for tests and for
// schedulers that provide their own looping.
func (a *Agent) RunOnce(ctx context.Context) error {
	if err := a.heartbeat(ctx); err != nil {
		a.log.Warn().Err(err).Msg("heartbeat failed")
	}
	requests, err := a.client.PendingExecutions(ctx)
	if err != nil {
		return fmt.Errorf("agent: poll executions: %w", err)
	}
	for _, req := range requests {
		a.handleRequest(ctx, req)
	}
	return nil
}

// Run loops the control cycle at the heartbeat cadence until ctx is
// canceled. Network partition is transient: registration and reconnection
// retry without bound.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.registerWithRetry(ctx, 0); err != nil {
		return err
	}

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer a.setState(StateStopped)

	failures := 0
	for {
		if err := a.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				a.log.Info().Msg("stop requested, loop drained")
				return nil
			}
			failures++
			a.log.Warn().Err(err).Int("consecutive_failures", failures).Msg("control cycle failed")
			if failures >= a.cfg.ReconnectAfterFailures {
				if err := a.registerWithRetry(ctx, failures); err != nil {
					return err
				}
				failures = 0
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			a.log.Info().Msg("stop requested, loop drained")
			return nil
		case <-ticker.C:
		}
	}
}

// registerWithRetry keeps attempting registration, backing off between
// attempts, until it succeeds or the context is canceled.
func (a *Agent) registerWithRetry(ctx context.Context, attempt int) error {
	backoff := transport.DefaultBackoffConfig()
	backoff.Jitter = false
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := a.Register(ctx)
		if err == nil {
			return nil
		}
		attempt++
		a.setState(StateReconnecting)
		a.log.Warn().Err(err).Int("attempt", attempt).Msg("registration failed, reconnecting")

		delay := transport.NextBackoffDelay(backoff, attempt, nil)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) error {
	hostname, _ := os.Hostname()
	a.mu.Lock()
	hash := a.hash
	inflight := len(a.inflight)
	a.mu.Unlock()

	resp, err := a.client.Heartbeat(ctx, heartbeatRequest{
		AgentVersion: Version,
		GoVersion:    runtime.Version(),
		Hostname:     hostname,
		CommandsHash: hash,
		InFlight:     inflight,
	})
	if err != nil {
		return err
	}
	if !resp.CommandsInSync {
		a.log.Info().Msg("server reports catalog drift, resyncing")
		if err := a.Register(ctx); err != nil {
			a.log.Warn().Err(err).Msg("catalog resync failed")
		}
	}
	return nil
}

// handleRequest produces exactly one result per request: REJECTED by the
// gate, FAILED on any runtime fault, SUCCEEDED otherwise. A request whose
// identifier was already completed in this run is answered from cache
// rather than executed again.
func (a *Agent) handleRequest(ctx context.Context, req ExecutionRequest) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		a.log.Error().Str("command", req.Command).Msg("dropping execution request without identifier")
		return
	}

	a.mu.Lock()
	if cached, done := a.completed[id]; done {
		a.mu.Unlock()
		a.log.Debug().Str("execution_id", id).Msg("request re-offered, re-reporting cached result")
		a.report(ctx, cached)
		return
	}
	if _, running := a.inflight[id]; running {
		a.mu.Unlock()
		a.log.Warn().Str("execution_id", id).Msg("duplicate dispatch suppressed")
		return
	}
	a.inflight[id] = struct{}{}
	a.mu.Unlock()

	result := a.execute(ctx, req)

	a.mu.Lock()
	delete(a.inflight, id)
	a.completed[id] = result
	a.mu.Unlock()

	a.report(ctx, result)
}

// execute applies the execution-time gate and runs the command inside a
// fault-containment boundary. The gate runs unconditionally even though
// sync-time filtering already hid denied commands from the server.
func (a *Agent) execute(ctx context.Context, req ExecutionRequest) ExecutionResult {
	if decision := a.policy.Evaluate(req.Command); !decision.Allowed {
		a.log.Warn().
			Str("execution_id", req.ID).
			Str("command", req.Command).
			Str("reason", decision.Reason).
			Msg("execution rejected by security policy")
		return ExecutionResult{ID: req.ID, Status: StatusRejected, Error: decision.Reason}
	}
	if decision := a.policy.EvaluateArgs(req.Command, req.Args); !decision.Allowed {
		a.log.Warn().
			Str("execution_id", req.ID).
			Str("command", req.Command).
			Str("reason", decision.Reason).
			Msg("execution rejected by bound-argument policy")
		return ExecutionResult{ID: req.ID, Status: StatusRejected, Error: decision.Reason}
	}

	// A stop signal must not kill a command already dispatched; the run is
	// detached from loop cancellation and bounded only by its own timeout.
	runCtx := context.WithoutCancel(ctx)
	cancel := func() {}
	if req.TimeoutSecs > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(req.TimeoutSecs)*time.Second)
	}
	defer cancel()

	start := time.Now()
	res, err := a.runContained(runCtx, req.Command, req.Args)
	duration := time.Since(start)

	output := truncateOutput(res.Output, a.cfg.MaxOutputBytes)
	result := ExecutionResult{
		ID:         req.ID,
		Output:     output,
		Duration:   duration,
		DurationMS: duration.Milliseconds(),
	}
	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Error = err.Error()
	case res.ExitCode != 0:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("exit status %d", res.ExitCode)
	default:
		result.Status = StatusSucceeded
	}

	a.log.Info().
		Str("execution_id", req.ID).
		Str("command", req.Command).
		Str("status", result.Status).
		Dur("duration", duration).
		Msg("execution finished")
	return result
}

// runContained converts catalog panics into errors so a misbehaving host
// command can never take down the control loop.
func (a *Agent) runContained(ctx context.Context, name string, args []string) (res catalog.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent: command fault: %v", r)
		}
	}()
	return a.catalog.Run(ctx, name, args)
}

// report sends one result to the server. Transport retries apply; if they
// are exhausted the failure is logged and the loop proceeds. The server
// re-offers unacknowledged work, so nothing is re-queued locally.
func (a *Agent) report(ctx context.Context, result ExecutionResult) {
	now := time.Now()
	a.outbox.Upsert(PendingReport{
		ExecutionID: result.ID,
		Status:      result.Status,
		QueuedAt:    now,
	})
	_, _ = a.outbox.MarkAttempt(result.ID, now, "")

	reportCtx := context.WithoutCancel(ctx)
	if err := a.client.ReportResult(reportCtx, result); err != nil {
		item, _ := a.outbox.MarkAttempt(result.ID, time.Now(), err.Error())
		a.log.Error().
			Str("execution_id", result.ID).
			Str("status", result.Status).
			Int("attempts", item.Attempts).
			Err(err).
			Msg("result report failed, server will re-offer")
		return
	}
	a.outbox.Remove(result.ID)
}

func truncateOutput(out []byte, limit int) string {
	if limit <= 0 || len(out) <= limit {
		return string(out)
	}
	return string(out[:limit]) + "\n... output truncated"
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
