package models

import (
	"time"
)

// StepRecord is the checkpoint of one named unit of work inside a run
type StepRecord struct {
	Name      string      `json:"name"`
	RunID     string      `json:"run_id,omitempty"`
	Outcome   StepOutcome `json:"outcome"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// StepOutcome defines the result of a checkpointed step
type StepOutcome string

const (
	StepOutcomeRunning StepOutcome = "running"
	StepOutcomeSuccess StepOutcome = "success"
	StepOutcomeFailure StepOutcome = "failure"
)

// RunStep names the fixed, ordered stages of an analysis run
type RunStep string

const (
	StepSearchInputDatasets RunStep = "search_input_datasets"
	StepSearchInputResults  RunStep = "search_input_results"
	StepTransferInputs      RunStep = "transfer_inputs"
	StepGenerateManifest    RunStep = "generate_manifest"
	StepMarkRunning         RunStep = "mark_running"
	StepRunPipeline         RunStep = "run_pipeline"
	StepCreateOutputs       RunStep = "create_output_datasets"
	StepCreateOutputResults RunStep = "create_output_results"
	StepMarkComplete        RunStep = "mark_complete"
	StepTransferOutputs     RunStep = "transfer_outputs"
	StepFinalize            RunStep = "finalize"
)

// RunSteps lists the run stages in execution order
var RunSteps = []RunStep{
	StepSearchInputDatasets,
	StepSearchInputResults,
	StepTransferInputs,
	StepGenerateManifest,
	StepMarkRunning,
	StepRunPipeline,
	StepCreateOutputs,
	StepCreateOutputResults,
	StepMarkComplete,
	StepTransferOutputs,
	StepFinalize,
}

// IsValidStepOutcome checks if the outcome is recognized
func IsValidStepOutcome(o StepOutcome) bool {
	switch o {
	case StepOutcomeRunning, StepOutcomeSuccess, StepOutcomeFailure:
		return true
	default:
		return false
	}
}

// Duration returns the elapsed time of a sealed step, or zero while it runs
func (s StepRecord) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// IsSealed reports whether the step has ended
func (s StepRecord) IsSealed() bool {
	return s.EndedAt != nil
}
