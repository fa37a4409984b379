package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.WorkspaceRoot)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.MaxDepth)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIDEFLOW_DB_PATH", "/tmp/flow.db")
	t.Setenv("TIDEFLOW_LOG_LEVEL", "debug")
	t.Setenv("TIDEFLOW_DEFINITIONS_DIR", "/tmp/defs")
	t.Setenv("TIDEFLOW_MAX_DEPTH", "3")
	t.Setenv("TIDEFLOW_NODE_TIMEOUT", "45s")

	cfg := loadConfig()
	assert.Equal(t, "/tmp/flow.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/defs", cfg.DefinitionsDir)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 45*time.Second, cfg.nodeTimeout())
}

func TestEnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("TIDEFLOW_MAX_DEPTH", "lots")
	t.Setenv("TIDEFLOW_NODE_TIMEOUT", "soon")

	cfg := loadConfig()
	assert.Equal(t, defaultConfig().MaxDepth, cfg.MaxDepth)
	assert.Equal(t, time.Duration(0), cfg.nodeTimeout())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logLevel("warn"))
	assert.Equal(t, slog.LevelError, logLevel("error"))
	assert.Equal(t, slog.LevelInfo, logLevel("info"))
	assert.Equal(t, slog.LevelInfo, logLevel("verbose"))
}
