package services_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sisyphus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
catalog:
  driver: postgres
  dsn: postgres://sisyphus@db/catalog
jira:
  url: https://jira.example.org
  username: sisyphus
  project: SC
storages:
  local_results: shahlab
  working_inputs: shahlab
  remote_inputs: singlecellblob
  definitions:
    - name: shahlab
      storage_type: server
      storage_directory: /shahlab/archive
    - name: singlecellblob
      storage_type: blob
      bucket: singlecell
      prefix: data
      endpoint: https://s3.example.org
      path_style: true
pipeline:
  command: single_cell
  version: v0.2.25
  args: ["--loglevel", "DEBUG"]
retry:
  max_attempts: 3
  initial_backoff_ms: 500
  max_backoff_ms: 10000
metrics:
  textfile: /var/lib/node_exporter/sisyphus.prom
analysis:
  fingerprint_width: 12
locks_dir: `+filepath.Join(dir, "locks")+`
`)

	cfg, err := services.LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Catalog.Driver)
	assert.Equal(t, "https://jira.example.org", cfg.Jira.URL)
	assert.Equal(t, "singlecellblob", cfg.Storages.RemoteInputs)
	require.Len(t, cfg.Storages.Definitions, 2)
	blob, ok := cfg.Storages.Lookup("singlecellblob")
	require.True(t, ok)
	assert.Equal(t, models.StorageKindBlob, blob.Kind)
	assert.Equal(t, "singlecell", blob.Bucket)
	assert.True(t, blob.PathStyle)
	assert.Equal(t, []string{"--loglevel", "DEBUG"}, cfg.Pipeline.Args)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 12, cfg.Analysis.FingerprintWidth)
	assert.DirExists(t, cfg.LocksDir)
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "locks_dir: "+filepath.Join(dir, "locks")+"\n")

	cfg, err := services.LoadConfig(path, nil)
	require.NoError(t, err)

	defaults := models.DefaultConfig()
	assert.Equal(t, defaults.Catalog, cfg.Catalog)
	assert.Equal(t, defaults.Retry, cfg.Retry)
	assert.Equal(t, models.DefaultFingerprintWidth, cfg.Analysis.FingerprintWidth)
	assert.Equal(t, "local", cfg.Storages.LocalResults)
	require.Len(t, cfg.Storages.Definitions, 1)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
jira:
  url: https://jira.example.org
  password: from-file
retry:
  max_attempts: 4
locks_dir: `+filepath.Join(dir, "locks")+`
`)
	t.Setenv("SISYPHUS_JIRA_PASSWORD", "from-env")
	t.Setenv("SISYPHUS_RETRY_MAX_ATTEMPTS", "6")

	cfg, err := services.LoadConfig(path, map[string]any{"retry.max_attempts": 2})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Jira.Password, "environment beats the file")
	assert.Equal(t, 2, cfg.Retry.MaxAttempts, "overrides beat the environment")
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()
	locks := "locks_dir: " + filepath.Join(dir, "locks") + "\n"

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown driver", "catalog:\n  driver: oracle\n" + locks, "unrecognized catalog driver"},
		{"undefined storage", "storages:\n  remote_inputs: tape\n" + locks, `undefined storage "tape"`},
		{"blob local results", `
storages:
  local_results: blob
  definitions:
    - name: blob
      storage_type: blob
      bucket: b
    - name: local
      storage_type: server
      storage_directory: /data
` + locks, "must be a server storage"},
		{"fingerprint too short", "analysis:\n  fingerprint_width: 4\n" + locks, "fingerprint_width"},
		{"backoff order", "retry:\n  initial_backoff_ms: 5000\n  max_backoff_ms: 100\n" + locks, "less than max_backoff_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := services.LoadConfig(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigUnreadableFile(t *testing.T) {
	path := writeConfig(t, "catalog: [unterminated")

	_, err := services.LoadConfig(path, nil)

	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "failed to read config file")
}
