package config

import (
	"time"

	"sleuth/internal/confidence"
	"sleuth/internal/conflict"
	"sleuth/internal/executor"
	"sleuth/internal/orchestrator"
)

// OrchestratorSection configures scheduling, retries and cancellation.
type OrchestratorSection struct {
	Concurrency        int     `yaml:"concurrency"`
	MaxTasksPerQuery   int     `yaml:"max_tasks_per_query"`
	MaxAttempts        int     `yaml:"max_attempts"`
	MaxFailureFraction float64 `yaml:"max_failure_fraction"`
	TaskTimeout        string  `yaml:"task_timeout"`
	SessionTimeout     string  `yaml:"session_timeout"`
	CancelGrace        string  `yaml:"cancel_grace"`
	RetryBackoffBase   string  `yaml:"retry_backoff_base"`
	RetryBackoffMax    string  `yaml:"retry_backoff_max"`
}

// ScoringSection holds the confidence model weights.
type ScoringSection struct {
	CredibilityWeight   float64 `yaml:"credibility_weight"`
	CorroborationWeight float64 `yaml:"corroboration_weight"`
	Tau                 float64 `yaml:"tau"`
	ConflictWeight      float64 `yaml:"conflict_weight"`
	RecencyHalfLife     string  `yaml:"recency_half_life"`
}

// ConflictSection holds the conflict thresholds.
type ConflictSection struct {
	NumericTolerance float64 `yaml:"numeric_tolerance"`
	HighSeverity     float64 `yaml:"high_severity"`
	MediumSeverity   float64 `yaml:"medium_severity"`
	ResolutionMargin float64 `yaml:"resolution_margin"`
}

// ExecutorSection configures research units.
type ExecutorSection struct {
	RelevanceFloor      float64 `yaml:"relevance_floor"`
	ProviderConcurrency int     `yaml:"provider_concurrency"`
	MaxResults          int     `yaml:"max_results"`
}

// GetTaskTimeout returns the per-node deadline.
func (c *Config) GetTaskTimeout() time.Duration {
	return parseDuration(c.Orchestrator.TaskTimeout, 2*time.Minute)
}

// GetSessionTimeout returns the whole-session deadline.
func (c *Config) GetSessionTimeout() time.Duration {
	return parseDuration(c.Orchestrator.SessionTimeout, 30*time.Minute)
}

// GetCancelGrace returns how long running nodes may finish after a graceful cancel.
func (c *Config) GetCancelGrace() time.Duration {
	return parseDuration(c.Orchestrator.CancelGrace, 10*time.Second)
}

// GetRetryBackoff returns the base and cap of retry backoff.
func (c *Config) GetRetryBackoff() (base, max time.Duration) {
	return parseDuration(c.Orchestrator.RetryBackoffBase, time.Second),
		parseDuration(c.Orchestrator.RetryBackoffMax, 30*time.Second)
}

// GetRecencyHalfLife returns the conflict penalty half-life.
func (c *Config) GetRecencyHalfLife() time.Duration {
	return parseDuration(c.Scoring.RecencyHalfLife, 72*time.Hour)
}

// OrchestratorConfig converts the orchestrator section.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	base, max := c.GetRetryBackoff()
	return orchestrator.Config{
		Concurrency:        c.Orchestrator.Concurrency,
		MaxAttempts:        c.Orchestrator.MaxAttempts,
		MaxFailureFraction: c.Orchestrator.MaxFailureFraction,
		TaskTimeout:        c.GetTaskTimeout(),
		SessionTimeout:     c.GetSessionTimeout(),
		CancelGrace:        c.GetCancelGrace(),
		RetryBackoffBase:   base,
		RetryBackoffMax:    max,
	}
}

// ScorerConfig converts the scoring section. Agreement uses the conflict
// tolerance so the scorer and detector never disagree on divergence.
func (c *Config) ScorerConfig() confidence.Config {
	return confidence.Config{
		CredibilityWeight:   c.Scoring.CredibilityWeight,
		CorroborationWeight: c.Scoring.CorroborationWeight,
		Tau:                 c.Scoring.Tau,
		ConflictWeight:      c.Scoring.ConflictWeight,
		RecencyHalfLife:     c.GetRecencyHalfLife(),
		NumericTolerance:    c.Conflict.NumericTolerance,
	}
}

// ConflictConfig converts the conflict section.
func (c *Config) ConflictConfig() conflict.Config {
	return conflict.Config{
		NumericTolerance: c.Conflict.NumericTolerance,
		HighSeverity:     c.Conflict.HighSeverity,
		MediumSeverity:   c.Conflict.MediumSeverity,
		ResolutionMargin: c.Conflict.ResolutionMargin,
	}
}

// ExecutorConfig converts the executor section.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		RelevanceFloor:      c.Executor.RelevanceFloor,
		ProviderConcurrency: c.Executor.ProviderConcurrency,
		MaxResults:          c.Executor.MaxResults,
	}
}
