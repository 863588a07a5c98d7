package models

import "time"

// WithStatus creates a new AnalysisRecord with updated status
// Pure function - returns new instance, does not mutate original
func WithStatus(a AnalysisRecord, status AnalysisStatus) AnalysisRecord {
	a.Status = status
	a.UpdatedAt = time.Now()
	return a
}

// ApplyUpdate creates a new AnalysisRecord with the non-nil update fields applied
// Pure function - returns new instance
func ApplyUpdate(a AnalysisRecord, u AnalysisUpdate) AnalysisRecord {
	if u.ErrorMessage != nil {
		a.ErrorMessage = *u.ErrorMessage
	}
	if u.LogFile != nil {
		a.LogFile = *u.LogFile
	}
	if u.InputIDs != nil {
		a.InputIDs = append([]int64(nil), u.InputIDs...)
	}
	if u.StartedAt != nil {
		started := *u.StartedAt
		a.StartedAt = &started
	}
	if u.FinishedAt != nil {
		finished := *u.FinishedAt
		a.FinishedAt = &finished
	}
	if u.Duration != nil {
		a.Duration = *u.Duration
	}
	if u.Version != nil {
		a.Version = *u.Version
	}
	a.UpdatedAt = time.Now()
	return a
}

// StartStep creates a new StepRecord in the running state
// Pure function - returns new instance
func StartStep(name string, runID string) StepRecord {
	return StepRecord{
		Name:      name,
		RunID:     runID,
		Outcome:   StepOutcomeRunning,
		StartedAt: time.Now(),
	}
}

// SealStep creates a new StepRecord sealed with a success outcome
// Pure function - returns new instance
func SealStep(step StepRecord) StepRecord {
	now := time.Now()
	step.Outcome = StepOutcomeSuccess
	step.EndedAt = &now
	step.Error = ""
	return step
}

// FailStep creates a new StepRecord sealed with a failure outcome and error detail
// Pure function - returns new instance
func FailStep(step StepRecord, errorMsg string) StepRecord {
	now := time.Now()
	step.Outcome = StepOutcomeFailure
	step.EndedAt = &now
	step.Error = errorMsg
	return step
}

// ReplaceStep replaces the last unsealed record with the same name, or appends it
// Pure function - returns new slice
func ReplaceStep(steps []StepRecord, updated StepRecord) []StepRecord {
	newSteps := make([]StepRecord, len(steps))
	copy(newSteps, steps)

	for i := len(newSteps) - 1; i >= 0; i-- {
		if newSteps[i].Name == updated.Name && !newSteps[i].IsSealed() {
			newSteps[i] = updated
			return newSteps
		}
	}
	return append(newSteps, updated)
}

// LastFailedStep finds the most recent failed step
// Pure function - returns copy of step if found
func LastFailedStep(steps []StepRecord) (StepRecord, bool) {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Outcome == StepOutcomeFailure {
			return steps[i], true
		}
	}
	return StepRecord{}, false
}
