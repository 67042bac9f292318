// Package server is the development control plane: an in-memory registry
// of agents, their synced catalogs, an execution queue, and an idempotent
// result store. It exists so the agent can be exercised end to end without
// the hosted service.
package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManageCommand/managecommand/internal/agent"
	"github.com/ManageCommand/managecommand/internal/catalog"
)

var (
	ErrUnknownExecution = errors.New("server: unknown execution")
	ErrEmptyCommand     = errors.New("server: command required")
)

// AgentRecord is the server's view of one agent.
type AgentRecord struct {
	AgentID      string               `json:"agent_id"`
	Commands     []catalog.Descriptor `json:"commands"`
	CommandsHash string               `json:"commands_hash"`
	AgentVersion string               `json:"agent_version,omitempty"`
	GoVersion    string               `json:"go_version,omitempty"`
	Hostname     string               `json:"hostname,omitempty"`
	LastSeen     time.Time            `json:"last_seen"`
}

// ExecutionRecord pairs a queued request with its eventual result.
type ExecutionRecord struct {
	Request agent.ExecutionRequest `json:"request"`
	Result  *agent.ExecutionResult `json:"result,omitempty"`
}

// State holds all control-plane data behind one lock.
type State struct {
	mu         sync.RWMutex
	agents     map[string]AgentRecord
	executions map[string]*ExecutionRecord
	order      []string
	seq        atomic.Uint64
}

func NewState() *State {
	return &State{
		agents:     make(map[string]AgentRecord),
		executions: make(map[string]*ExecutionRecord),
	}
}

// SyncAgent stores an agent's advertised catalog and hash.
func (s *State) SyncAgent(agentID string, commands []catalog.Descriptor, hash string) int {
	agentID = strings.TrimSpace(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.agents[agentID]
	rec.AgentID = agentID
	rec.Commands = append([]catalog.Descriptor(nil), commands...)
	rec.CommandsHash = strings.TrimSpace(hash)
	rec.LastSeen = time.Now()
	s.agents[agentID] = rec
	return len(rec.Commands)
}

// Heartbeat records liveness and reports whether the agent's catalog hash
// matches the last synced one, plus the pending queue depth.
func (s *State) Heartbeat(agentID, hash, agentVersion, goVersion, hostname string) (inSync bool, pending int) {
	agentID = strings.TrimSpace(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.agents[agentID]
	rec.AgentID = agentID
	rec.AgentVersion = strings.TrimSpace(agentVersion)
	rec.GoVersion = strings.TrimSpace(goVersion)
	rec.Hostname = strings.TrimSpace(hostname)
	rec.LastSeen = time.Now()
	s.agents[agentID] = rec

	inSync = rec.CommandsHash != "" && rec.CommandsHash == strings.TrimSpace(hash)
	return inSync, s.pendingLocked()
}

// Enqueue queues one execution request, assigning an identifier when the
// caller did not provide one.
func (s *State) Enqueue(req agent.ExecutionRequest) (agent.ExecutionRequest, error) {
	if strings.TrimSpace(req.Command) == "" {
		return agent.ExecutionRequest{}, ErrEmptyCommand
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		req.ID = fmt.Sprintf("exec.%d", s.seq.Add(1))
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[req.ID]; exists {
		return agent.ExecutionRequest{}, fmt.Errorf("server: duplicate execution id %q", req.ID)
	}
	s.executions[req.ID] = &ExecutionRecord{Request: req}
	s.order = append(s.order, req.ID)
	return req, nil
}

// Pending returns queued requests that have no accepted result yet, in
// enqueue order. Requests stay listed until a result arrives; an agent that
// crashed mid-run sees its work re-offered on the next poll.
func (s *State) Pending() []agent.ExecutionRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.ExecutionRequest, 0)
	for _, id := range s.order {
		rec := s.executions[id]
		if rec.Result == nil {
			out = append(out, rec.Request)
		}
	}
	return out
}

// PendingCount reports the current queue depth.
func (s *State) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingLocked()
}

func (s *State) pendingLocked() int {
	n := 0
	for _, id := range s.order {
		if s.executions[id].Result == nil {
			n++
		}
	}
	return n
}

// AcceptResult stores the result for an execution. Acceptance is
// idempotent: the first result for an identifier wins and duplicates are
// acknowledged without overwriting.
func (s *State) AcceptResult(result agent.ExecutionResult) (firstAccept bool, err error) {
	id := strings.TrimSpace(result.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownExecution, id)
	}
	if rec.Result != nil {
		return false, nil
	}
	stored := result
	rec.Result = &stored
	return true, nil
}

// Execution returns one execution record by identifier.
func (s *State) Execution(id string) (ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[strings.TrimSpace(id)]
	if !ok {
		return ExecutionRecord{}, false
	}
	out := ExecutionRecord{Request: rec.Request}
	if rec.Result != nil {
		copied := *rec.Result
		out.Result = &copied
	}
	return out, true
}

// Agents lists known agents.
func (s *State) Agents() []AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		out = append(out, rec)
	}
	return out
}
