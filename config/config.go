// Package config holds the Conductor runtime configuration.
//
// Configuration is resolved in precedence order: defaults, then the
// conductor.yaml file (found by walking up from the working directory),
// then CONDUCTOR_* environment variables.
package config

import "time"

// Config represents the core Conductor configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Tools    ToolsConfig    `mapstructure:"tools"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExecutorConfig configures the job worker pool
type ExecutorConfig struct {
	// Number of concurrent job workers (default: 2)
	Workers int `mapstructure:"workers"`

	// How often workers check for queued jobs, in seconds (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// Maximum execution duration per job, in seconds. The longest
	// observed tool runs (LLM-backed evaluation) take up to ten minutes,
	// so the default is 15 minutes. 0 disables the timeout.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`

	// Terminal jobs older than this many days are eligible for cleanup.
	// 0 disables retention cleanup.
	RetentionDays int `mapstructure:"retention_days"`

	// Maximum tool launches per minute across all workers. Protects the
	// LLM-backed tools from hammering their upstream APIs after a burst
	// of submissions. 0 disables rate limiting.
	MaxLaunchesPerMinute int `mapstructure:"max_launches_per_minute"`
}

// ToolsConfig configures where the wrapped analysis tools live
type ToolsConfig struct {
	// Root directory containing one subdirectory per tool
	Root string `mapstructure:"root"`

	// Interpreter used to run tool scripts (default: python3)
	Python string `mapstructure:"python"`

	// Optional path to a tools.yaml overriding the embedded registry
	// definitions
	Definitions string `mapstructure:"definitions"`
}

// PollInterval returns the worker poll interval as a duration
func (c ExecutorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// JobTimeout returns the per-job execution timeout as a duration
func (c ExecutorConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// Retention returns the terminal-job retention window as a duration
func (c ExecutorConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
