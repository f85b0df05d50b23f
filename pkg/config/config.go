// Package config loads and validates fleetd's configuration: a fleet.yaml
// file (plus an optional .env) merged over compiled-in defaults, returning
// a single immutable *Config consumed by every other component at
// construction. There is no package-level singleton; callers thread the
// *Config through explicitly, the way tarsy's cmd/tarsy wires its own
// *config.Config.
package config

import (
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

// Config is the umbrella object returned by Load, holding every other
// component's settings.
type Config struct {
	configDir string

	HTTP        HTTPConfig        `yaml:"http"`
	Store       StoreConfig       `yaml:"store"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	AgentLoop   AgentLoopConfig   `yaml:"agent_loop"`
	Queue       QueueConfig       `yaml:"queue"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	LLM         LLMConfig         `yaml:"llm"`
}

// ConfigDir returns the directory Load read fleet.yaml from.
func (c *Config) ConfigDir() string { return c.configDir }

// HTTPConfig controls the API server's bind address (C9).
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig holds the PostgreSQL connection and pool settings consumed
// by pkg/store (C1). Field names mirror store.Config directly so Load can
// copy them across with no renaming at the call site.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ToStoreConfig converts to pkg/store's own Config, the shape
// store.Open actually takes.
func (c StoreConfig) ToStoreConfig() store.Config {
	return store.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// CoordinatorConfig holds pkg/coordinator's tunables (C2).
type CoordinatorConfig struct {
	// DefaultLockDuration is used whenever a lock is acquired without an
	// explicit duration (mirrors models.DefaultLockDuration).
	DefaultLockDuration time.Duration `yaml:"default_lock_duration"`
}

// VerifierConfig holds pkg/verifier's tunables (C3): per-toolchain tool
// paths and the wall-clock budget for the test stage.
type VerifierConfig struct {
	TestBudget time.Duration `yaml:"test_budget"`

	// GoBinary/GolangciLintBinary override the executable names the Go
	// LanguageChecker/Linter shell out to, for environments where they
	// are not on PATH under their default name.
	GoBinary           string `yaml:"go_binary"`
	GolangciLintBinary string `yaml:"golangci_lint_binary"`
}

// AgentLoopConfig holds pkg/agent's Loop budgets (C4).
type AgentLoopConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxRunTime    time.Duration `yaml:"max_run_time"`
}

// QueueConfig controls runner polling/dispatch tuning, mirroring the
// teacher's own QueueConfig shape (worker_count, poll_interval, ...)
// generalized from session polling to task polling.
type QueueConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`
	MaxConcurrentAgents int          `yaml:"max_concurrent_agents"`
}

// SupervisorConfig controls the Supervisor's periodic pass (C7).
type SupervisorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LLMConfig holds the connection details for the external chat/tool-calling
// endpoint pkg/llm.HTTPLLMClient calls on the in-process runner's behalf.
// APIKey is read from an env var ($LLM_API_KEY by convention) via fleet.yaml's
// ${VAR} expansion, never committed in plain text.
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}
