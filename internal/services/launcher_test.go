package services_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func pipelineScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pipeline scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "single_cell")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func invocation(t *testing.T) services.PipelineInvocation {
	return services.PipelineInvocation{
		AnalysisType:    models.AnalysisTypeAlign,
		AnalysisName:    "sc_align_BWA_MEM_0_7_6A_HG19_L1_0123abcd",
		LibraryID:       "L1",
		Aligner:         "BWA_MEM_0_7_6A",
		ReferenceGenome: "HG19",
		InputsYAML:      "/data/SC-100/inputs.yaml",
		PipelineDir:     filepath.Join(t.TempDir(), "SC-100"),
		ResultsDir:      "singlecelldata/results/SC-100/results",
		ScpipelineDir:   "singlecelldata/pipeline/SC-100",
		TmpDir:          "singlecelldata/temp/SC-100",
		Mounts:          []string{"/data"},
	}
}

func TestLauncherArgs(t *testing.T) {
	launcher := services.NewCommandLauncher(models.PipelineConfig{
		Command:           "single_cell",
		Args:              []string{"--loglevel", "DEBUG"},
		ContextConfigFile: "/etc/sisyphus/context.yaml",
	}, testsupport.Logger())

	args, err := launcher.Args(invocation(t))
	require.NoError(t, err)

	assert.Equal(t, "align", args[0])
	assert.Contains(t, args, "--config_override")
	assert.Contains(t, args, `{"aligner":"BWA_MEM_0_7_6A","reference":"HG19"}`)
	assert.Contains(t, args, "/etc/sisyphus/context.yaml")
	assert.NotContains(t, args, "--docker_env_file")
	assert.Equal(t, []string{"--mount", "/data", "--loglevel", "DEBUG"}, args[len(args)-4:])
}

func TestLauncherWritesLog(t *testing.T) {
	command := pipelineScript(t, `echo "running $1 for $3"`)
	launcher := services.NewCommandLauncher(models.PipelineConfig{Command: command}, testsupport.Logger())
	inv := invocation(t)

	require.NoError(t, launcher.Launch(context.Background(), inv))

	log, err := os.ReadFile(services.LogFile(inv))
	require.NoError(t, err)
	assert.Contains(t, string(log), "running align for /data/SC-100/inputs.yaml")
	assert.Equal(t, "align.log", filepath.Base(services.LogFile(inv)))
}

func TestLauncherReportsExitCode(t *testing.T) {
	command := pipelineScript(t, "exit 3")
	launcher := services.NewCommandLauncher(models.PipelineConfig{Command: command}, testsupport.Logger())

	err := launcher.Launch(context.Background(), invocation(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
}

func TestLauncherStopsOnCancel(t *testing.T) {
	command := pipelineScript(t, "exec sleep 30")
	launcher := services.NewCommandLauncher(models.PipelineConfig{Command: command}, testsupport.Logger())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := launcher.Launch(ctx, invocation(t))

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLauncherMissingCommand(t *testing.T) {
	launcher := services.NewCommandLauncher(models.PipelineConfig{Command: filepath.Join(t.TempDir(), "missing")}, testsupport.Logger())

	err := launcher.Launch(context.Background(), invocation(t))

	assert.ErrorContains(t, err, "failed to start pipeline")
}
