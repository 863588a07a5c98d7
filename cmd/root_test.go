package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

const seedYAML = `
libraries:
  - pool_id: A96213A
    sample_id: SA1090
    taxonomy_id: "9606"
    jira_ticket: SC-1
    sequencings:
      - id: 1
        number_of_lanes_requested: 2
        lanes:
          - {id: 1, flow_cell_id: FC1, lane_number: "1"}
          - {id: 2, flow_cell_id: FC2, lane_number: "1"}
`

// writeTestConfig points a config file at a sqlite catalog and storages under a temp dir
func writeTestConfig(t *testing.T) (string, models.CatalogConfig) {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "catalog.db")
	body := `
catalog:
  driver: sqlite
  dsn: ` + dsn + `
storages:
  local_results: local
  working_inputs: local
  remote_inputs: local
  definitions:
    - name: local
      storage_type: server
      storage_directory: ` + filepath.Join(dir, "data") + `
metrics:
  textfile: ` + filepath.Join(dir, "sisyphus.prom") + `
locks_dir: ` + filepath.Join(dir, "locks") + `
`
	path := filepath.Join(dir, "sisyphus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, models.CatalogConfig{Driver: "sqlite", DSN: dsn}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestCatalogLoadIsRepeatable(t *testing.T) {
	config, catalogConfig := writeTestConfig(t)
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0644))

	require.NoError(t, execute(t, "--config", config, "catalog", "load", seed))
	require.NoError(t, execute(t, "--config", config, "catalog", "load", seed))
	require.NoError(t, execute(t, "--config", config, "catalog", "libraries"))

	catalog, err := services.OpenCatalog(context.Background(), catalogConfig, testsupport.Logger())
	require.NoError(t, err)
	defer func() { _ = catalog.Close() }()

	libraries, err := catalog.ListLibraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libraries, 1)
	assert.Equal(t, "A96213A", libraries[0].ID)
}

func TestAnalysisCommands(t *testing.T) {
	config, _ := writeTestConfig(t)

	require.NoError(t, execute(t, "--config", config, "analysis", "list", "--status", "error"))

	err := execute(t, "--config", config, "analysis", "reset", "sc_align_A_HG19_A96213A_4c772dd8")
	assert.ErrorIs(t, err, lib.ErrNotFound)

	err = execute(t, "--config", config, "analysis", "status", "sc_align_A_HG19_A96213A_4c772dd8")
	assert.ErrorIs(t, err, lib.ErrNotFound)
}

func TestRunRequiresJiraSettings(t *testing.T) {
	config, _ := writeTestConfig(t)

	err := execute(t, "--config", config, "run", "--library", "A96213A", "--no-progress")
	assert.ErrorIs(t, err, lib.ErrConfiguration)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"ANALYSIS", "STATUS"}, [][]string{{"sc_align_x", "idle"}, {"short"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "ANALYSIS")
	assert.Contains(t, out, "sc_align_x")
	assert.Contains(t, out, "short")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestStatusSymbol(t *testing.T) {
	assert.Equal(t, "✓", statusSymbol(models.AnalysisStatusComplete))
	assert.Equal(t, "✗", statusSymbol(models.AnalysisStatusError))
	assert.Equal(t, "?", statusSymbol("unknown"))
}

func TestRunIntegrationTestFlagUsage(t *testing.T) {
	flag := runCmd.Flags().Lookup("integration-test")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
	assert.Contains(t, flag.Usage, "append TEST to the library id")
}
