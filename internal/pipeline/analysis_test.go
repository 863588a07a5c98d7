package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func idleRecord(catalog *testsupport.Catalog) models.AnalysisRecord {
	return catalog.PutAnalysis(models.AnalysisRecord{
		Name:       "sc_align_BWA_MEM_0_7_6A_HG19_L1_0123abcd",
		Type:       models.AnalysisTypeAlign,
		Status:     models.AnalysisStatusIdle,
		JiraTicket: "SC-100",
		LibraryID:  "L1",
	})
}

func TestStateMachineLifecycle(t *testing.T) {
	ctx := context.Background()
	catalog := testsupport.NewCatalog()
	rec := idleRecord(catalog)
	m := pipeline.NewStateMachine(catalog, rec, testsupport.Logger(), nil)

	running, err := m.MarkRunning(ctx, "/pipeline/align.log", "v0.2.0")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusRunning, running.Status)
	assert.Equal(t, "/pipeline/align.log", running.LogFile)
	assert.Equal(t, "v0.2.0", running.Version)
	require.NotNil(t, running.StartedAt)

	complete, err := m.MarkComplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusComplete, complete.Status)
	require.NotNil(t, complete.FinishedAt)
	assert.GreaterOrEqual(t, complete.Duration.Nanoseconds(), int64(0))

	stored, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusComplete, stored.Status)

	_, err = m.MarkError(ctx, "too late")
	assert.True(t, errors.Is(err, lib.ErrConflict))
}

func TestStateMachineErrorAndReset(t *testing.T) {
	ctx := context.Background()
	catalog := testsupport.NewCatalog()
	m := pipeline.NewStateMachine(catalog, idleRecord(catalog), testsupport.Logger(), nil)

	_, err := m.Reset(ctx)
	require.Error(t, err, "idle cannot be reset")

	_, err = m.MarkRunning(ctx, "", "")
	require.NoError(t, err)
	failed, err := m.MarkError(ctx, "pipeline exited with code 1")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusError, failed.Status)
	assert.Equal(t, "pipeline exited with code 1", failed.ErrorMessage)

	reset, err := m.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusIdle, reset.Status)
	assert.Empty(t, reset.ErrorMessage)
}

func TestStateMachineRejectsSkippedStates(t *testing.T) {
	ctx := context.Background()
	catalog := testsupport.NewCatalog()
	m := pipeline.NewStateMachine(catalog, idleRecord(catalog), testsupport.Logger(), nil)

	_, err := m.MarkComplete(ctx)
	require.Error(t, err)
	_, err = m.MarkError(ctx, "never ran")
	require.Error(t, err)

	stored, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusIdle, stored.Status)
}

func TestStateMachineAllowsOneConcurrentRunningTransition(t *testing.T) {
	ctx := context.Background()
	catalog := testsupport.NewCatalog()
	rec := idleRecord(catalog)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := pipeline.NewStateMachine(catalog, rec, testsupport.Logger(), nil)
			_, err := m.MarkRunning(ctx, "", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, lib.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}
