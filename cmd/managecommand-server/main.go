package main

import (
	"fmt"
	"os"

	"github.com/ManageCommand/managecommand/internal/logging"
	"github.com/ManageCommand/managecommand/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "managecommand-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := "config.toml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	logging.ConfigureRuntime()

	cfg, err := loadServerConfig(path)
	if err != nil {
		return err
	}

	svc := server.NewService(cfg)
	return svc.Run()
}
