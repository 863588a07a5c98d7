package models

import (
	"fmt"
	"net/url"
)

// ProjectConfig is the top-level configuration for the analysis automation
type ProjectConfig struct {
	Catalog  CatalogConfig  `yaml:"catalog" json:"catalog"`
	Jira     JiraConfig     `yaml:"jira" json:"jira"`
	Storages StorageConfig  `yaml:"storages" json:"storages"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`
	LocksDir string         `yaml:"locks_dir" json:"locks_dir"`
}

// CatalogConfig selects the SQL database backing the metadata catalog
type CatalogConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite" | "postgres"
	DSN    string `yaml:"dsn" json:"dsn"`
}

// JiraConfig contains ticketing service connection settings
type JiraConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Project  string `yaml:"project" json:"project"`
}

// StorageConfig names the storage tiers used by runs and defines every known storage
type StorageConfig struct {
	LocalResults  string    `yaml:"local_results" json:"local_results"`
	WorkingInputs string    `yaml:"working_inputs" json:"working_inputs"`
	RemoteInputs  string    `yaml:"remote_inputs" json:"remote_inputs"`
	Definitions   []Storage `yaml:"definitions" json:"definitions"`
}

// PipelineConfig describes how the external single cell pipeline is launched
type PipelineConfig struct {
	Command           string   `yaml:"command" json:"command"`
	Args              []string `yaml:"args" json:"args"`
	Version           string   `yaml:"version" json:"version"`
	DockerEnvFile     string   `yaml:"docker_env_file" json:"docker_env_file"`
	ContextConfigFile string   `yaml:"context_config_file" json:"context_config_file"`
}

// RetryConfig controls retry behavior for transient HTTP errors
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// MetricsConfig controls the prometheus textfile written at the end of each command
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile"`
}

// AnalysisConfig holds analysis naming settings
type AnalysisConfig struct {
	FingerprintWidth int `yaml:"fingerprint_width" json:"fingerprint_width"`
}

// DefaultFingerprintWidth is the lane hash length used in analysis names
const DefaultFingerprintWidth = 8

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Catalog: CatalogConfig{
			Driver: "sqlite",
			DSN:    "./sisyphus.db",
		},
		Jira: JiraConfig{
			Project: "SC",
		},
		Storages: StorageConfig{
			LocalResults:  "local",
			WorkingInputs: "local",
			RemoteInputs:  "local",
			Definitions: []Storage{
				{Name: "local", Kind: StorageKindServer, Directory: "./data"},
			},
		},
		Pipeline: PipelineConfig{
			Command: "single_cell",
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
		Analysis: AnalysisConfig{
			FingerprintWidth: DefaultFingerprintWidth,
		},
		LocksDir: "./locks",
	}
}

// Validate checks if the JiraConfig has all required fields and valid values
func (c *JiraConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("jira url is required")
	}

	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid jira url: %w", err)
	}

	if c.Username == "" {
		return fmt.Errorf("jira username is required")
	}

	if c.Password == "" {
		return fmt.Errorf("jira password is required")
	}

	if c.Project == "" {
		return fmt.Errorf("jira project is required")
	}

	return nil
}

// Lookup returns the definition of a named storage
func (c *StorageConfig) Lookup(name string) (Storage, bool) {
	for _, s := range c.Definitions {
		if s.Name == name {
			return s, true
		}
	}
	return Storage{}, false
}
