package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all tideflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	DefinitionsDir string `json:"definitions_dir"`
	WorkspaceRoot  string `json:"workspace_root"`
	AgentEndpoint  string `json:"agent_endpoint"`
	MaxDepth       int    `json:"max_depth"`
	NodeTimeout    string `json:"node_timeout"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(tideflowDir(), "tideflow.db"),
		LogLevel:      "info",
		WorkspaceRoot: filepath.Join(tideflowDir(), "workspace"),
		MaxDepth:      8,
	}
}

func tideflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tideflow"
	}
	return filepath.Join(home, ".tideflow")
}

func settingsPath() string {
	return filepath.Join(tideflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TIDEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TIDEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TIDEFLOW_DEFINITIONS_DIR"); v != "" {
		cfg.DefinitionsDir = v
	}
	if v := os.Getenv("TIDEFLOW_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("TIDEFLOW_AGENT_ENDPOINT"); v != "" {
		cfg.AgentEndpoint = v
	}
	if v := os.Getenv("TIDEFLOW_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxDepth = n
		}
	}
	if v := os.Getenv("TIDEFLOW_NODE_TIMEOUT"); v != "" {
		cfg.NodeTimeout = v
	}

	return cfg
}

// nodeTimeout parses the configured default node timeout, zero when unset
// or malformed.
func (c Config) nodeTimeout() time.Duration {
	if c.NodeTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.NodeTimeout)
	if err != nil {
		return 0
	}
	return d
}
