package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ManageCommand/managecommand/internal/server"
)

type fileConfig struct {
	ListenAddr  string   `toml:"listen_addr"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		addr := strings.TrimSpace(raw.ListenAddr)
		if addr != "" {
			cfg.ListenAddr = addr
		}
	}
	if meta.IsDefined("api_key") {
		cfg.APIKey = strings.TrimSpace(raw.APIKey)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}

	if cfg.APIKey == "" {
		return server.Config{}, fmt.Errorf("config %s: api_key is required", path)
	}
	return cfg, nil
}
