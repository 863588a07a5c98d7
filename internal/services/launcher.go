package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// PipelineInvocation is everything the external pipeline needs for one run
type PipelineInvocation struct {
	AnalysisType    models.AnalysisType
	AnalysisName    string
	LibraryID       string
	Aligner         string
	ReferenceGenome string
	InputsYAML      string
	PipelineDir     string   // Local results storage root + job subdir
	ResultsDir      string   // Relative to the working storage
	ScpipelineDir   string   // Relative to the working storage
	TmpDir          string   // Relative to the working storage
	Mounts          []string // Directories the pipeline container must see
}

// CommandLauncher runs the external single cell pipeline as a child process.
// Output is written to a log file inside the pipeline directory
type CommandLauncher struct {
	config models.PipelineConfig
	logger *lib.Logger
}

// NewCommandLauncher creates a launcher for the configured pipeline command
func NewCommandLauncher(config models.PipelineConfig, logger *lib.Logger) *CommandLauncher {
	return &CommandLauncher{config: config, logger: logger}
}

// LogFile returns where the pipeline output of an invocation goes
func LogFile(inv PipelineInvocation) string {
	return filepath.Join(inv.PipelineDir, fmt.Sprintf("%s.log", inv.AnalysisType))
}

// Args builds the command line of an invocation, without the command itself
func (l *CommandLauncher) Args(inv PipelineInvocation) ([]string, error) {
	override, err := json.Marshal(map[string]string{
		"aligner":   inv.Aligner,
		"reference": inv.ReferenceGenome,
	})
	if err != nil {
		return nil, err
	}

	args := []string{
		string(inv.AnalysisType),
		"--input_yaml", inv.InputsYAML,
		"--library_id", inv.LibraryID,
		"--out_dir", inv.ResultsDir,
		"--tmpdir", inv.TmpDir,
		"--pipelinedir", inv.ScpipelineDir,
		"--config_override", string(override),
	}
	if l.config.ContextConfigFile != "" {
		args = append(args, "--context_config", l.config.ContextConfigFile)
	}
	if l.config.DockerEnvFile != "" {
		args = append(args, "--docker_env_file", l.config.DockerEnvFile)
	}
	for _, dir := range inv.Mounts {
		args = append(args, "--mount", dir)
	}
	return append(args, l.config.Args...), nil
}

// Launch runs the pipeline and waits for it. Cancelling ctx kills the process
func (l *CommandLauncher) Launch(ctx context.Context, inv PipelineInvocation) error {
	args, err := l.Args(inv)
	if err != nil {
		return fmt.Errorf("build pipeline arguments: %w", err)
	}

	if err := os.MkdirAll(inv.PipelineDir, 0755); err != nil {
		return fmt.Errorf("failed to create pipeline directory: %w", err)
	}
	logPath := LogFile(inv)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open pipeline log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.CommandContext(ctx, l.config.Command, args...)
	cmd.Dir = inv.PipelineDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.WaitDelay = 30 * time.Second

	l.logger.Info("Launching pipeline",
		"analysis", inv.AnalysisName,
		"command", l.config.Command,
		"type", inv.AnalysisType,
		"log", logPath,
	)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("pipeline %s exited with code %d (see %s)", inv.AnalysisType, exitErr.ExitCode(), logPath)
		}
		return fmt.Errorf("failed to start pipeline %s: %w", l.config.Command, err)
	}
	return nil
}
