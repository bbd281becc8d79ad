// Package config provides configuration management for sleuth.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"sleuth/internal/logging"
)

// Config holds all configuration for sleuth.
type Config struct {
	Name string `yaml:"name"`

	Orchestrator OrchestratorSection `yaml:"orchestrator"`
	Scoring      ScoringSection      `yaml:"scoring"`
	Conflict     ConflictSection     `yaml:"conflict"`
	Executor     ExecutorSection     `yaml:"executor"`
	Store        StoreSection        `yaml:"store"`
	Providers    ProvidersSection    `yaml:"providers"`
	Logging      logging.Config      `yaml:"logging"`
}

// StoreSection selects the session persistence backend.
type StoreSection struct {
	Backend      string `yaml:"backend"` // sqlite, file, memory
	DatabasePath string `yaml:"database_path"`
	Directory    string `yaml:"directory"`
	SaveTimeout  string `yaml:"save_timeout"`
}

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "sleuth",

		Orchestrator: OrchestratorSection{
			Concurrency:        5,
			MaxTasksPerQuery:   10,
			MaxAttempts:        3,
			MaxFailureFraction: 0.5,
			TaskTimeout:        "2m",
			SessionTimeout:     "30m",
			CancelGrace:        "10s",
			RetryBackoffBase:   "1s",
			RetryBackoffMax:    "30s",
		},

		Scoring: ScoringSection{
			CredibilityWeight:   0.6,
			CorroborationWeight: 0.4,
			Tau:                 1.5,
			ConflictWeight:      0.5,
			RecencyHalfLife:     "72h",
		},

		Conflict: ConflictSection{
			NumericTolerance: 0.05,
			HighSeverity:     0.9,
			MediumSeverity:   0.5,
			ResolutionMargin: 0.1,
		},

		Executor: ExecutorSection{
			RelevanceFloor:      0.3,
			ProviderConcurrency: 3,
			MaxResults:          8,
		},

		Store: StoreSection{
			Backend:      BackendSQLite,
			DatabasePath: ".sleuth/sleuth.db",
			Directory:    ".sleuth/sessions",
			SaveTimeout:  "30s",
		},

		Providers: ProvidersSection{
			Gemini: GeminiSection{
				Model:   "gemini-2.5-flash",
				Timeout: "60s",
			},
			Web: WebSection{
				Endpoint:  "https://html.duckduckgo.com/html/",
				UserAgent: "Mozilla/5.0 (compatible; sleuth/1.0)",
				Timeout:   "30s",
			},
		},

		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.Gemini.APIKey = key
	}

	if path := os.Getenv("SLEUTH_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if backend := os.Getenv("SLEUTH_STORE"); backend != "" {
		c.Store.Backend = backend
	}

	if v := os.Getenv("SLEUTH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.Concurrency = n
		}
	}

	if level := os.Getenv("SLEUTH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetSaveTimeout returns the per-checkpoint save timeout.
func (c *Config) GetSaveTimeout() time.Duration {
	return parseDuration(c.Store.SaveTimeout, 30*time.Second)
}

// ValidBackends lists all supported store backends.
var ValidBackends = []string{BackendSQLite, BackendFile, BackendMemory}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validBackend := false
	for _, b := range ValidBackends {
		if c.Store.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidBackends)
	}

	o := c.Orchestrator
	if o.Concurrency < 1 {
		return fmt.Errorf("orchestrator.concurrency must be at least 1, got %d", o.Concurrency)
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1, got %d", o.MaxAttempts)
	}
	if o.MaxTasksPerQuery < 1 {
		return fmt.Errorf("orchestrator.max_tasks_per_query must be at least 1, got %d", o.MaxTasksPerQuery)
	}
	if o.MaxFailureFraction < 0 || o.MaxFailureFraction > 1 {
		return fmt.Errorf("orchestrator.max_failure_fraction must be within [0,1], got %v", o.MaxFailureFraction)
	}
	for name, v := range map[string]string{
		"orchestrator.task_timeout":       o.TaskTimeout,
		"orchestrator.session_timeout":    o.SessionTimeout,
		"orchestrator.cancel_grace":       o.CancelGrace,
		"orchestrator.retry_backoff_base": o.RetryBackoffBase,
		"orchestrator.retry_backoff_max":  o.RetryBackoffMax,
		"scoring.recency_half_life":       c.Scoring.RecencyHalfLife,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Scoring.Tau <= 0 {
		return fmt.Errorf("scoring.tau must be positive, got %v", c.Scoring.Tau)
	}
	if c.Scoring.ConflictWeight < 0 || c.Scoring.ConflictWeight > 1 {
		return fmt.Errorf("scoring.conflict_weight must be within [0,1], got %v", c.Scoring.ConflictWeight)
	}
	if c.Conflict.MediumSeverity > c.Conflict.HighSeverity {
		return fmt.Errorf("conflict.medium_severity (%v) exceeds conflict.high_severity (%v)",
			c.Conflict.MediumSeverity, c.Conflict.HighSeverity)
	}
	if c.Executor.ProviderConcurrency < 1 {
		return fmt.Errorf("executor.provider_concurrency must be at least 1, got %d", c.Executor.ProviderConcurrency)
	}

	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
