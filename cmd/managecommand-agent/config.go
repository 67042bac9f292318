package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ManageCommand/managecommand/internal/agent"
	"github.com/ManageCommand/managecommand/internal/catalog"
)

// agent config.toml key mapping to runtime settings.
type fileConfig struct {
	AgentID             string   `toml:"agent_id"`
	ServerURL           string   `toml:"server_url"`
	APIKey              string   `toml:"api_key"`
	HeartbeatInterval   string   `toml:"heartbeat_interval"`
	HeartbeatIntervalMS int64    `toml:"heartbeat_interval_ms"`
	RequestTimeout      string   `toml:"request_timeout"`
	MaxRetries          int      `toml:"max_retries"`
	AllowHTTPHosts      []string `toml:"allow_http_hosts"`
	TLSCAFile           string   `toml:"tls_ca_file"`
	MaxOutputBytes      int      `toml:"max_output_bytes"`
	ReconnectAfter      int      `toml:"reconnect_after_failures"`
	RunOnce             bool     `toml:"run_once"`

	AllowedCommands    []string `toml:"allowed_commands"`
	DisallowedCommands []string `toml:"disallowed_commands"`

	HostCommand []string           `toml:"host_command"`
	WorkDir     string             `toml:"work_dir"`
	Commands    []fileCommand      `toml:"command"`
	Bound       []fileBoundCommand `toml:"bound_command"`
}

type fileCommand struct {
	Name     string `toml:"name"`
	Help     string `toml:"help"`
	ArgsHint string `toml:"args_hint"`
}

type fileBoundCommand struct {
	Name    string     `toml:"name"`
	ArgSets [][]string `toml:"arg_sets"`
}

// runtimeConfig is everything the binary needs beyond agent.Config.
type runtimeConfig struct {
	Agent       agent.Config
	HostCommand []string
	WorkDir     string
	Commands    []catalog.Descriptor
	RunOnce     bool
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	rc := runtimeConfig{Agent: agent.DefaultConfig()}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load agent config: %w", err)
	}

	if meta.IsDefined("agent_id") {
		id := strings.TrimSpace(raw.AgentID)
		if id != "" {
			rc.Agent.AgentID = id
		}
	}
	if meta.IsDefined("server_url") {
		rc.Agent.ServerURL = strings.TrimSpace(raw.ServerURL)
	}
	if meta.IsDefined("api_key") {
		rc.Agent.APIKey = strings.TrimSpace(raw.APIKey)
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		rc.Agent.HeartbeatInterval = d
	}
	if meta.IsDefined("heartbeat_interval_ms") {
		rc.Agent.HeartbeatInterval = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		rc.Agent.RequestTimeout = d
	}
	if meta.IsDefined("max_retries") {
		rc.Agent.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("allow_http_hosts") {
		rc.Agent.AllowHTTPHosts = normalizeList(raw.AllowHTTPHosts)
	}
	if meta.IsDefined("tls_ca_file") {
		rc.Agent.TLSCAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("max_output_bytes") {
		rc.Agent.MaxOutputBytes = raw.MaxOutputBytes
	}
	if meta.IsDefined("reconnect_after_failures") {
		rc.Agent.ReconnectAfterFailures = raw.ReconnectAfter
	}
	if meta.IsDefined("run_once") {
		rc.RunOnce = raw.RunOnce
	}

	if meta.IsDefined("allowed_commands") {
		rc.Agent.Security.AllowedCommands = normalizeList(raw.AllowedCommands)
	}
	if meta.IsDefined("disallowed_commands") {
		rc.Agent.Security.DisallowedCommands = normalizeList(raw.DisallowedCommands)
	}
	if len(raw.Bound) > 0 {
		bound := make(map[string][][]string, len(raw.Bound))
		for _, b := range raw.Bound {
			name := strings.TrimSpace(b.Name)
			if name == "" {
				return runtimeConfig{}, fmt.Errorf("bound_command entry missing name")
			}
			bound[name] = b.ArgSets
		}
		rc.Agent.Security.BoundCommands = bound
	}

	if meta.IsDefined("host_command") {
		rc.HostCommand = normalizeList(raw.HostCommand)
	}
	if meta.IsDefined("work_dir") {
		rc.WorkDir = strings.TrimSpace(raw.WorkDir)
	}
	for _, cmd := range raw.Commands {
		name := strings.TrimSpace(cmd.Name)
		if name == "" {
			return runtimeConfig{}, fmt.Errorf("command entry missing name")
		}
		rc.Commands = append(rc.Commands, catalog.Descriptor{
			Name:     name,
			Help:     strings.TrimSpace(cmd.Help),
			ArgsHint: strings.TrimSpace(cmd.ArgsHint),
		})
	}

	return rc, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
