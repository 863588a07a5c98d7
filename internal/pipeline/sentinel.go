package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
)

// StepJournal persists step records as they start and end
type StepJournal interface {
	Record(step models.StepRecord) error
}

// Sentinel executes labelled units of work: it logs their start and end,
// records a StepRecord for each and annotates failures with the label.
// Errors are returned, never absorbed
type Sentinel struct {
	runID   string
	journal StepJournal
	logger  *lib.Logger
	metrics *metrics.Recorder
}

// NewSentinel creates a sentinel for one run. journal and recorder may be nil
func NewSentinel(runID string, journal StepJournal, logger *lib.Logger, recorder *metrics.Recorder) *Sentinel {
	return &Sentinel{runID: runID, journal: journal, logger: logger, metrics: recorder}
}

// RunID returns the run the sentinel records steps for
func (s *Sentinel) RunID() string {
	return s.runID
}

// Run executes fn as the step label
func (s *Sentinel) Run(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	_, err := RunStep(ctx, s, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RunStep executes fn as the step label and passes its value through.
// A context that is already done fails the step without calling fn. A panic in
// fn is journalled as a failed step and then re-raised
func RunStep[T any](ctx context.Context, s *Sentinel, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	step := models.StartStep(label, s.runID)
	s.record(step)
	lib.LogStepStart(s.logger, label, s.runID)

	var (
		value T
		err   error
	)
	defer func() {
		if p := recover(); p != nil {
			duration := time.Since(step.StartedAt)
			s.record(models.FailStep(step, fmt.Sprintf("panic: %v", p)))
			s.metrics.ObserveStep(label, string(models.StepOutcomeFailure), duration)
			lib.LogStepFailed(s.logger, label, s.runID, duration, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w before step started: %w", lib.ErrCancelled, ctxErr)
	} else {
		value, err = fn(ctx)
	}
	duration := time.Since(step.StartedAt)

	if err != nil {
		s.record(models.FailStep(step, err.Error()))
		s.metrics.ObserveStep(label, string(models.StepOutcomeFailure), duration)
		lib.LogStepFailed(s.logger, label, s.runID, duration, err)
		return zero, &lib.StepError{Label: label, RunID: s.runID, Cause: err}
	}

	s.record(models.SealStep(step))
	s.metrics.ObserveStep(label, string(models.StepOutcomeSuccess), duration)
	lib.LogStepComplete(s.logger, label, s.runID, duration)
	return value, nil
}

// record writes to the journal. The journal is an audit trail, so a failed
// write is logged and the step goes on
func (s *Sentinel) record(step models.StepRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(step); err != nil {
		s.logger.Warn("Failed to journal step", "step", step.Name, "run_id", s.runID, "error", err)
	}
}
