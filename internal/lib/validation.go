package lib

import (
	"github.com/trobanga/sisyphus/internal/models"
)

// StepPrerequisites defines which run steps must have succeeded before a given step can run
var StepPrerequisites = map[models.RunStep][]models.RunStep{
	models.StepSearchInputDatasets: {},
	models.StepSearchInputResults:  {},
	models.StepTransferInputs:      {models.StepSearchInputDatasets, models.StepSearchInputResults},
	models.StepGenerateManifest:    {models.StepSearchInputDatasets, models.StepSearchInputResults},
	models.StepMarkRunning:         {models.StepTransferInputs, models.StepGenerateManifest},
	models.StepRunPipeline:         {models.StepTransferInputs, models.StepGenerateManifest, models.StepMarkRunning},
	models.StepCreateOutputs:       {models.StepRunPipeline},
	models.StepCreateOutputResults: {models.StepRunPipeline},
	models.StepMarkComplete:        {models.StepCreateOutputs, models.StepCreateOutputResults},
	models.StepTransferOutputs:     {models.StepMarkComplete},
	models.StepFinalize:            {models.StepMarkComplete},
}

// ValidateStepPrerequisites checks if all prerequisite steps have succeeded
// Returns the first missing prerequisite, or empty string if all prerequisites are met
func ValidateStepPrerequisites(steps []models.StepRecord, step models.RunStep) (models.RunStep, bool) {
	prerequisites, exists := StepPrerequisites[step]
	if !exists {
		return "", true
	}

	for _, prerequisite := range prerequisites {
		if !hasSucceeded(steps, prerequisite) {
			return prerequisite, false
		}
	}

	return "", true
}

// CanRunStep checks if a step can be executed given the steps recorded so far
// Returns true if the step can run, false otherwise with the blocking prerequisite
func CanRunStep(steps []models.StepRecord, step models.RunStep) (bool, models.RunStep) {
	prerequisite, canRun := ValidateStepPrerequisites(steps, step)
	return canRun, prerequisite
}

// GetStepDependencies returns the list of steps that must succeed before the given step
func GetStepDependencies(step models.RunStep) []models.RunStep {
	deps, exists := StepPrerequisites[step]
	if !exists {
		return []models.RunStep{}
	}
	return deps
}

func hasSucceeded(steps []models.StepRecord, name models.RunStep) bool {
	for _, s := range steps {
		if s.Name == string(name) && s.Outcome == models.StepOutcomeSuccess {
			return true
		}
	}
	return false
}
