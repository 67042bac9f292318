// Package security decides, independent of the control server, whether a
// named command may be advertised or executed by the agent.
package security

import (
	"fmt"
	"strings"
)

const (
	ReasonNotInAllowlist = "not in allowlist"
	ReasonInBlocklist    = "in disallowed-commands blocklist"
)

// Decision is the outcome of one policy evaluation. Reason is empty only
// when the command is allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

// Config is the immutable policy input assembled at startup.
//
// AllowedCommands and DisallowedCommands are mode-exclusive: a non-empty
// allowlist makes the blocklist irrelevant for every evaluation.
type Config struct {
	AllowedCommands    []string
	DisallowedCommands []string

	// BoundCommands restricts listed commands to exact predefined argument
	// vectors. Commands absent from the map accept any arguments.
	BoundCommands map[string][][]string
}

// Policy evaluates command names against a configuration snapshot.
// It holds no mutable state and performs no I/O.
type Policy struct {
	allowed    map[string]struct{}
	disallowed map[string]struct{}
	bound      map[string][][]string
}

// New builds a policy from a configuration snapshot. Set membership is
// resolved here once; the running agent never touches a shared mutable set.
func New(cfg Config) *Policy {
	p := &Policy{
		allowed:    toSet(cfg.AllowedCommands),
		disallowed: toSet(cfg.DisallowedCommands),
		bound:      make(map[string][][]string, len(cfg.BoundCommands)),
	}
	for name, sets := range cfg.BoundCommands {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		copied := make([][]string, 0, len(sets))
		for _, args := range sets {
			copied = append(copied, append([]string(nil), args...))
		}
		p.bound[name] = copied
	}
	return p
}

// Evaluate decides whether a command name may run. Matching is exact and
// case-sensitive, no wildcard expansion.
func (p *Policy) Evaluate(command string) Decision {
	if len(p.allowed) > 0 {
		if _, ok := p.allowed[command]; ok {
			return Decision{Allowed: true}
		}
		return Decision{Reason: ReasonNotInAllowlist}
	}
	if _, ok := p.disallowed[command]; ok {
		return Decision{Reason: ReasonInBlocklist}
	}
	return Decision{Allowed: true}
}

// EvaluateArgs checks the argument vector of a bound command. Unbound
// commands accept any arguments. Bound commands must match one configured
// vector exactly, element for element.
func (p *Policy) EvaluateArgs(command string, args []string) Decision {
	sets, ok := p.bound[command]
	if !ok {
		return Decision{Allowed: true}
	}
	for _, allowed := range sets {
		if equalArgs(args, allowed) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: fmt.Sprintf(
		"args %q not in allowed set for bound command, allowed: %s",
		strings.Join(args, " "), describeArgSets(sets),
	)}
}

// Allowed reports whether the allowlist mode is active.
func (p *Policy) AllowlistMode() bool {
	return len(p.allowed) > 0
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, raw := range in {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		out[name] = struct{}{}
	}
	return out
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func describeArgSets(sets [][]string) string {
	parts := make([]string, 0, len(sets))
	for _, args := range sets {
		parts = append(parts, fmt.Sprintf("%q", strings.Join(args, " ")))
	}
	return strings.Join(parts, ", ")
}
