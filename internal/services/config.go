package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/trobanga/sisyphus/internal/models"
)

// LoadConfig loads configuration from file and merges with CLI overrides
// Priority order (highest to lowest):
//  1. CLI overrides (config key -> value)
//  2. Environment variables (SISYPHUS_JIRA_PASSWORD for jira.password)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string, overrides map[string]any) (*models.ProjectConfig, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		v.SetConfigName("sisyphus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/sisyphus")
		v.AddConfigPath("/etc/sisyphus")
	}

	setDefaults(v, models.DefaultConfig())

	v.SetEnvPrefix("SISYPHUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - don't fail if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	// Build config manually from viper values
	// (Viper.Unmarshal has issues with nested structs in some versions)
	config := models.ProjectConfig{
		Catalog: models.CatalogConfig{
			Driver: v.GetString("catalog.driver"),
			DSN:    v.GetString("catalog.dsn"),
		},
		Jira: models.JiraConfig{
			URL:      v.GetString("jira.url"),
			Username: v.GetString("jira.username"),
			Password: v.GetString("jira.password"),
			Project:  v.GetString("jira.project"),
		},
		Storages: models.StorageConfig{
			LocalResults:  v.GetString("storages.local_results"),
			WorkingInputs: v.GetString("storages.working_inputs"),
			RemoteInputs:  v.GetString("storages.remote_inputs"),
		},
		Pipeline: models.PipelineConfig{
			Command:           v.GetString("pipeline.command"),
			Args:              v.GetStringSlice("pipeline.args"),
			Version:           v.GetString("pipeline.version"),
			DockerEnvFile:     v.GetString("pipeline.docker_env_file"),
			ContextConfigFile: v.GetString("pipeline.context_config_file"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      v.GetInt("retry.max_attempts"),
			InitialBackoffMs: v.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     v.GetInt64("retry.max_backoff_ms"),
		},
		Metrics: models.MetricsConfig{
			Textfile: v.GetString("metrics.textfile"),
		},
		Analysis: models.AnalysisConfig{
			FingerprintWidth: v.GetInt("analysis.fingerprint_width"),
		},
		LocksDir: v.GetString("locks_dir"),
	}

	if err := v.UnmarshalKey("storages.definitions", &config.Storages.Definitions); err != nil {
		return nil, fmt.Errorf("invalid storages.definitions: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := models.ValidateLocksDir(config.LocksDir); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper, d models.ProjectConfig) {
	v.SetDefault("catalog.driver", d.Catalog.Driver)
	v.SetDefault("catalog.dsn", d.Catalog.DSN)
	v.SetDefault("jira.project", d.Jira.Project)
	v.SetDefault("storages.local_results", d.Storages.LocalResults)
	v.SetDefault("storages.working_inputs", d.Storages.WorkingInputs)
	v.SetDefault("storages.remote_inputs", d.Storages.RemoteInputs)
	v.SetDefault("pipeline.command", d.Pipeline.Command)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff_ms", d.Retry.InitialBackoffMs)
	v.SetDefault("retry.max_backoff_ms", d.Retry.MaxBackoffMs)
	v.SetDefault("analysis.fingerprint_width", d.Analysis.FingerprintWidth)
	v.SetDefault("locks_dir", d.LocksDir)

	defs := make([]map[string]any, 0, len(d.Storages.Definitions))
	for _, s := range d.Storages.Definitions {
		defs = append(defs, map[string]any{
			"name":              s.Name,
			"storage_type":      string(s.Kind),
			"storage_directory": s.Directory,
		})
	}
	v.SetDefault("storages.definitions", defs)
}
