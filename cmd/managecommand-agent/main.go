package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManageCommand/managecommand/internal/agent"
	"github.com/ManageCommand/managecommand/internal/catalog"
	"github.com/ManageCommand/managecommand/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "managecommand-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := "config.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	logging.ConfigureRuntime()
	log := logging.Component("main")

	rc, err := loadRuntimeConfig(path)
	if err != nil {
		return err
	}
	if len(rc.HostCommand) == 0 {
		return fmt.Errorf("config %s: host_command is required", path)
	}

	cat, err := catalog.NewExecCatalog(rc.HostCommand, rc.WorkDir, rc.Commands)
	if err != nil {
		return err
	}

	ag, err := agent.New(rc.Agent, cat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rc.RunOnce {
		if err := ag.Register(ctx); err != nil {
			return err
		}
		return ag.RunOnce(ctx)
	}

	log.Info().
		Str("agent_id", rc.Agent.AgentID).
		Str("server_url", rc.Agent.ServerURL).
		Dur("heartbeat", rc.Agent.HeartbeatInterval).
		Msg("starting agent")
	return ag.Run(ctx)
}
