/*
Copyright © 2025 Sisyphus Contributors

Sisyphus is a CLI tool for orchestrating single cell analysis runs.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/services"
)

var (
	// Global flags
	cfgFile    string
	verbose    bool
	logLevel   string
	noProgress bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sisyphus",
	Short: "Sisyphus - single cell analysis automation",
	Long: `Sisyphus drives single cell analyses through their lifecycle.

For each sequenced library it checks that the data is complete, registers
the analysis under a deterministic name with a ticket, moves inputs to the
working storage, runs the external pipeline and registers its outputs.

Analysis status lives in the metadata catalog (idle, running, complete,
error). A failed analysis stays in error until an operator resets it.

Example:
  sisyphus analysis discover --type align --aligner A
  sisyphus run --library A96213A --type align --aligner A
  sisyphus analysis list --status error

For more information, visit: https://github.com/trobanga/sisyphus`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", lib.ClassifyError(err).UserMessage())
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sisyphus.yaml, ~/.config/sisyphus/sisyphus.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress indicators")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate("Sisyphus version {{.Version}}\n")
}

// environment bundles what every catalog-backed command needs
type environment struct {
	config   *models.ProjectConfig
	logger   *lib.Logger
	recorder *metrics.Recorder
	catalog  *services.SQLCatalog
	storage  *services.StorageManager
	jira     *services.JiraClient
}

// newLogger honors --log-level; --verbose wins
func newLogger() *lib.Logger {
	logger := lib.NewLogger(lib.ParseLogLevel(logLevel))
	if verbose {
		logger.SetLevel(lib.LogLevelDebug)
	}
	return logger
}

// openEnvironment loads the configuration and opens the catalog and storages
func openEnvironment(ctx context.Context) (*environment, error) {
	logger := newLogger()

	config, err := services.LoadConfig(cfgFile, nil)
	if err != nil {
		return nil, err
	}

	catalog, err := services.OpenCatalog(ctx, config.Catalog, logger)
	if err != nil {
		return nil, err
	}

	var progress io.Writer = os.Stderr
	if noProgress {
		progress = io.Discard
	}

	return &environment{
		config:   config,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		catalog:  catalog,
		storage:  services.NewStorageManager(config.Storages, catalog, logger, progress).WithRetry(config.Retry),
	}, nil
}

// jiraClient is built on first use, since commands that never touch tickets
// must work without jira settings
func (e *environment) jiraClient() *services.JiraClient {
	if e.jira == nil {
		httpClient := services.NewHTTPClient(30*time.Second, e.config.Retry, e.logger)
		e.jira = services.NewJiraClient(e.config.Jira, httpClient, e.logger)
	}
	return e.jira
}

// dependencies wires the run collaborators
func (e *environment) dependencies() pipeline.Dependencies {
	return pipeline.Dependencies{
		Catalog:  e.catalog,
		Lab:      e.catalog,
		Tickets:  e.jiraClient(),
		Storage:  e.storage,
		Files:    e.storage,
		Launcher: services.NewCommandLauncher(e.config.Pipeline, e.logger),
	}
}

// Close writes the metrics textfile and closes the catalog
func (e *environment) Close() {
	if err := e.recorder.WriteTextfile(e.config.Metrics.Textfile); err != nil {
		e.logger.Warn("Failed to write metrics textfile", "path", e.config.Metrics.Textfile, "error", err)
	}
	if err := e.catalog.Close(); err != nil {
		e.logger.Warn("Failed to close catalog", "error", err)
	}
}

// requireJira fails early with configuration guidance when ticketing is not configured
func (e *environment) requireJira() error {
	if err := e.config.Jira.Validate(); err != nil {
		return lib.ErrInvalidConfig("jira", err.Error())
	}
	return nil
}
