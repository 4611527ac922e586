// Package config loads and validates the runtime configuration: the root
// config file, the tools descriptor, the model catalog, and the heartbeat
// jobs file. Every knob is env-settable with an ARIA_ prefix; defaults
// exist for everything except secrets.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the runtime.
type Config struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Store configures the persistent store.
	Store StoreConfig `yaml:"store"`

	// Router configures the model router client.
	Router RouterConfig `yaml:"router"`

	// Session configures the session manager.
	Session SessionConfig `yaml:"session"`

	// Pipeline configures the cognition pipeline.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Coordinator configures agent selection and pheromone updates.
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// Agents declares the personas available to the coordinator.
	Agents []AgentConfig `yaml:"agents"`

	// ToolsPath is the path to the tools descriptor (skills config).
	ToolsPath string `yaml:"tools_path"`

	// CatalogPath is the path to the model catalog.
	CatalogPath string `yaml:"catalog_path"`

	// JobsPath is the path to the heartbeat jobs file.
	JobsPath string `yaml:"jobs_path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file path; ":memory:" for tests.
	Path string `yaml:"path"`
}

// RouterConfig configures the model router client.
type RouterConfig struct {
	// BaseURL is the OpenAI-wire proxy endpoint.
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token, declared as an env reference ("env:NAME").
	// Resolved once at startup; never persisted.
	Token string `yaml:"token"`

	// Timeout is the per-call deadline.
	Timeout Duration `yaml:"timeout"`

	// DailyTokenBudget blocks paid-tier calls once exceeded. 0 disables.
	DailyTokenBudget int64 `yaml:"daily_token_budget"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	// MainSessionID is the current process's protected main session.
	MainSessionID string `yaml:"main_session_id"`

	// CheckpointEvery is the number of message boundaries between working
	// memory checkpoints.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// PruneMaxAge is the sweep age for prune; protected sessions excluded.
	PruneMaxAge Duration `yaml:"prune_max_age"`
}

// PipelineConfig configures the cognition pipeline.
type PipelineConfig struct {
	// MaxInFlight caps concurrent per-message handlers.
	MaxInFlight int `yaml:"max_in_flight"`

	// ContextTokenBudget caps working-memory context pulled per message.
	ContextTokenBudget int `yaml:"context_token_budget"`

	// CompressionThreshold is the raw-memory window size that enqueues a
	// compression job.
	CompressionThreshold int `yaml:"compression_threshold"`
}

// CoordinatorConfig configures agent selection.
type CoordinatorConfig struct {
	// HistoryWindow is the number of recent delegations used for the
	// speed and cost normalizations.
	HistoryWindow int `yaml:"history_window"`

	// Decay is the daily pheromone decay factor, applied on read.
	Decay float64 `yaml:"decay"`

	// Reward is added to pheromone on delegated task success.
	Reward float64 `yaml:"reward"`

	// Penalty is subtracted from pheromone on failure.
	Penalty float64 `yaml:"penalty"`
}

// AgentConfig declares a persona.
type AgentConfig struct {
	ID            string   `yaml:"id"`
	Role          string   `yaml:"role"`
	AllowedSkills []string `yaml:"allowed_skills"`
	PrimaryModel  string   `yaml:"primary_model"`
	FallbackModel string   `yaml:"fallback_model"`
	FocusTags     []string `yaml:"focus_tags"`
}

// Default returns the configuration defaults. Secrets have no default.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Path: "aria.db"},
		Router: RouterConfig{
			BaseURL: "http://localhost:4000/v1",
			Timeout: Duration(60 * time.Second),
		},
		Session: SessionConfig{
			MainSessionID:   "main",
			CheckpointEvery: 5,
			PruneMaxAge:     Duration(24 * time.Hour),
		},
		Pipeline: PipelineConfig{
			MaxInFlight:          16,
			ContextTokenBudget:   2000,
			CompressionThreshold: 100,
		},
		Coordinator: CoordinatorConfig{
			HistoryWindow: 20,
			Decay:         0.95,
			Reward:        0.1,
			Penalty:       0.05,
		},
		ToolsPath:   "tools.yaml",
		CatalogPath: "models.yaml",
		JobsPath:    "jobs.yaml",
	}
}

// ApplyEnv overlays ARIA_* environment variables onto the config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ARIA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ARIA_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ARIA_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("ARIA_ROUTER_URL"); v != "" {
		c.Router.BaseURL = v
	}
	if os.Getenv("ARIA_ROUTER_TOKEN") != "" {
		c.Router.Token = "env:ARIA_ROUTER_TOKEN"
	}
	if v := os.Getenv("ARIA_SESSION_ID"); v != "" {
		c.Session.MainSessionID = v
	}
	if v := os.Getenv("ARIA_DAILY_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Router.DailyTokenBudget = n
		}
	}
	if v := os.Getenv("ARIA_TOOLS_PATH"); v != "" {
		c.ToolsPath = v
	}
	if v := os.Getenv("ARIA_CATALOG_PATH"); v != "" {
		c.CatalogPath = v
	}
	if v := os.Getenv("ARIA_JOBS_PATH"); v != "" {
		c.JobsPath = v
	}
}
