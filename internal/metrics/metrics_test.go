package metrics_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/metrics"
)

func TestRecorderCountsObservations(t *testing.T) {
	r := metrics.NewRecorder()
	r.ObserveTransition("align", "idle", "running")
	r.ObserveTransition("align", "idle", "running")
	r.ObserveTransfer("remote", "local", "success")
	r.ObserveRegistry("align", "created")
	r.ObserveStep("run_pipeline", "success", 2*time.Second)

	expected := `
# HELP sisyphus_analysis_transitions_total Persisted analysis status transitions.
# TYPE sisyphus_analysis_transitions_total counter
sisyphus_analysis_transitions_total{analysis_type="align",from="idle",to="running"} 2
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "sisyphus_analysis_transitions_total"))

	count, err := testutil.GatherAndCount(r.Registry(), "sisyphus_transfers_total", "sisyphus_registry_lookups_total", "sisyphus_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestWriteTextfile(t *testing.T) {
	r := metrics.NewRecorder()
	r.ObserveRunFinished("hmmcopy", "complete", time.Unix(1700000000, 0))
	path := filepath.Join(t.TempDir(), "sisyphus.prom")

	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sisyphus_last_run_timestamp_seconds{analysis_type="hmmcopy",status="complete"} 1.7e+09`)
}

func TestWriteTextfileDisabled(t *testing.T) {
	assert.NoError(t, metrics.NewRecorder().WriteTextfile(""))

	var nilRecorder *metrics.Recorder
	assert.NoError(t, nilRecorder.WriteTextfile("/nonexistent/x.prom"))
}
