package pipeline

import (
	"context"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
)

// StateMachine drives the status of one analysis. Every transition is a
// compare-and-set in the catalog, so the stored record is the only source of
// truth and a second concurrent idle -> running transition fails with a conflict
type StateMachine struct {
	catalog      Catalog
	name         string
	analysisType models.AnalysisType
	logger       *lib.Logger
	metrics      *metrics.Recorder
	startedAt    time.Time
}

// NewStateMachine binds a state machine to an analysis record
func NewStateMachine(catalog Catalog, rec models.AnalysisRecord, logger *lib.Logger, recorder *metrics.Recorder) *StateMachine {
	m := &StateMachine{
		catalog:      catalog,
		name:         rec.Name,
		analysisType: rec.Type,
		logger:       logger,
		metrics:      recorder,
	}
	if rec.StartedAt != nil {
		m.startedAt = *rec.StartedAt
	}
	return m
}

// Name returns the analysis the state machine is bound to
func (m *StateMachine) Name() string {
	return m.name
}

// Current reads the stored record
func (m *StateMachine) Current(ctx context.Context) (models.AnalysisRecord, error) {
	lookup, err := m.catalog.GetAnalysis(ctx, m.name)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	rec, ok := lookup.Get()
	if !ok {
		return models.AnalysisRecord{}, lib.ErrAnalysisNotFound(m.name)
	}
	return rec, nil
}

// RecordInputs links the datasets and results a run consumes. Status is untouched
func (m *StateMachine) RecordInputs(ctx context.Context, ids []int64) (models.AnalysisRecord, error) {
	if ids == nil {
		ids = []int64{}
	}
	return m.catalog.UpdateAnalysis(ctx, m.name, models.AnalysisUpdate{InputIDs: ids})
}

// MarkRunning moves idle -> running right before the pipeline starts
func (m *StateMachine) MarkRunning(ctx context.Context, logFile string, version string) (models.AnalysisRecord, error) {
	now := time.Now()
	cleared := ""
	update := models.AnalysisUpdate{
		StartedAt:    &now,
		LogFile:      &logFile,
		ErrorMessage: &cleared,
	}
	if version != "" {
		update.Version = &version
	}
	rec, err := m.transition(ctx, models.AnalysisStatusIdle, models.AnalysisStatusRunning, update)
	if err != nil {
		return rec, err
	}
	m.startedAt = now
	return rec, nil
}

// MarkComplete moves running -> complete and stamps the finish time and duration
func (m *StateMachine) MarkComplete(ctx context.Context) (models.AnalysisRecord, error) {
	now := time.Now()
	var duration time.Duration
	if !m.startedAt.IsZero() {
		duration = now.Sub(m.startedAt)
	}
	return m.transition(ctx, models.AnalysisStatusRunning, models.AnalysisStatusComplete, models.AnalysisUpdate{
		FinishedAt: &now,
		Duration:   &duration,
	})
}

// MarkError moves running -> error with the reason the run stopped
func (m *StateMachine) MarkError(ctx context.Context, reason string) (models.AnalysisRecord, error) {
	now := time.Now()
	return m.transition(ctx, models.AnalysisStatusRunning, models.AnalysisStatusError, models.AnalysisUpdate{
		ErrorMessage: &reason,
		FinishedAt:   &now,
	})
}

// Reset moves error -> idle. Only an operator issues it; runs never do
func (m *StateMachine) Reset(ctx context.Context) (models.AnalysisRecord, error) {
	cleared := ""
	return m.transition(ctx, models.AnalysisStatusError, models.AnalysisStatusIdle, models.AnalysisUpdate{
		ErrorMessage: &cleared,
	})
}

func (m *StateMachine) transition(ctx context.Context, from, to models.AnalysisStatus, update models.AnalysisUpdate) (models.AnalysisRecord, error) {
	rec, err := m.catalog.TransitionAnalysis(ctx, m.name, from, to, update)
	if err != nil {
		return rec, err
	}
	lib.LogAnalysisTransition(m.logger, m.name, string(from), string(to))
	m.metrics.ObserveTransition(string(m.analysisType), string(from), string(to))
	return rec, nil
}
