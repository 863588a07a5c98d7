package ui_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/ui"
)

func TestProgressBarCountsBytesThroughReader(t *testing.T) {
	bar := ui.NewProgressBarWithWriter(10, "fastq/a.fastq.gz", io.Discard)

	data, err := io.ReadAll(bar.Reader(strings.NewReader("0123456789")))
	require.NoError(t, err)
	require.NoError(t, bar.Finish())

	assert.Equal(t, "0123456789", string(data))
	assert.InDelta(t, 100.0, bar.GetPercentage(), 0.001)
	assert.GreaterOrEqual(t, bar.GetElapsedTime(), time.Duration(0))
}

func TestProgressBarZeroTotal(t *testing.T) {
	bar := ui.NewProgressBarWithWriter(0, "empty", io.Discard)
	assert.Zero(t, bar.GetPercentage())
}

func TestSpinnerReportsOutcome(t *testing.T) {
	var out bytes.Buffer
	spinner := ui.NewSpinner("Running align pipeline", &out)

	spinner.Start()
	assert.True(t, spinner.IsActive())
	spinner.Stop(false)
	assert.False(t, spinner.IsActive())

	assert.Contains(t, out.String(), "Running align pipeline...")
	assert.Contains(t, out.String(), "✗ Running align pipeline (failed after")
}
