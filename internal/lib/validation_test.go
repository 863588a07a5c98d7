package lib_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

func succeeded(names ...models.RunStep) []models.StepRecord {
	now := time.Now()
	steps := make([]models.StepRecord, 0, len(names))
	for _, n := range names {
		steps = append(steps, models.StepRecord{Name: string(n), Outcome: models.StepOutcomeSuccess, StartedAt: now, EndedAt: &now})
	}
	return steps
}

func TestEveryRunStepHasPrerequisites(t *testing.T) {
	for _, step := range models.RunSteps {
		_, ok := lib.StepPrerequisites[step]
		assert.True(t, ok, "step %s", step)
	}
}

func TestPrerequisitesPrecedeTheirStep(t *testing.T) {
	position := make(map[models.RunStep]int, len(models.RunSteps))
	for i, step := range models.RunSteps {
		position[step] = i
	}
	for step, deps := range lib.StepPrerequisites {
		for _, dep := range deps {
			assert.Less(t, position[dep], position[step], "%s must run before %s", dep, step)
		}
	}
}

func TestCanRunStep(t *testing.T) {
	ok, blocking := lib.CanRunStep(nil, models.StepSearchInputDatasets)
	assert.True(t, ok)
	assert.Empty(t, blocking)

	ok, blocking = lib.CanRunStep(succeeded(models.StepSearchInputDatasets), models.StepTransferInputs)
	assert.False(t, ok)
	assert.Equal(t, models.StepSearchInputResults, blocking)

	steps := succeeded(models.StepSearchInputDatasets, models.StepSearchInputResults, models.StepTransferInputs, models.StepGenerateManifest)
	ok, _ = lib.CanRunStep(steps, models.StepMarkRunning)
	assert.True(t, ok)

	// A failed attempt does not count
	failed := models.FailStep(models.StepRecord{Name: string(models.StepMarkRunning), StartedAt: time.Now()}, "conflict")
	ok, blocking = lib.CanRunStep(append(steps, failed), models.StepRunPipeline)
	assert.False(t, ok)
	assert.Equal(t, models.StepMarkRunning, blocking)

	assert.Equal(t, []models.RunStep{models.StepRunPipeline}, lib.GetStepDependencies(models.StepCreateOutputs))
	assert.Empty(t, lib.GetStepDependencies("unknown"))
}
