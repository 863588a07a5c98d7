package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

const analysisColumns = `id, name, analysis_type, status, jira_ticket, library_id, version,
	input_lanes, input_ids, logfile, error_message, extra,
	created_at, updated_at, started_at, finished_at, duration_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (models.AnalysisRecord, error) {
	var (
		rec                  models.AnalysisRecord
		analysisType, status string
		lanes, ids, extra    string
		createdAt, updatedAt string
		startedAt, finished  sql.NullString
		durationNs           int64
	)
	if err := row.Scan(
		&rec.ID, &rec.Name, &analysisType, &status, &rec.JiraTicket, &rec.LibraryID, &rec.Version,
		&lanes, &ids, &rec.LogFile, &rec.ErrorMessage, &extra,
		&createdAt, &updatedAt, &startedAt, &finished, &durationNs,
	); err != nil {
		return models.AnalysisRecord{}, err
	}

	rec.Type = models.AnalysisType(analysisType)
	rec.Status = models.AnalysisStatus(status)
	rec.Duration = time.Duration(durationNs)

	if err := decodeJSON(lanes, &rec.InputLanes); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("decode input_lanes of %s: %w", rec.Name, err)
	}
	if err := decodeJSON(ids, &rec.InputIDs); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("decode input_ids of %s: %w", rec.Name, err)
	}
	if err := decodeJSON(extra, &rec.Extra); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("decode extra of %s: %w", rec.Name, err)
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("parse created_at of %s: %w", rec.Name, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("parse updated_at of %s: %w", rec.Name, err)
	}
	if rec.StartedAt, err = parseOptionalTime(startedAt); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("parse started_at of %s: %w", rec.Name, err)
	}
	if rec.FinishedAt, err = parseOptionalTime(finished); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("parse finished_at of %s: %w", rec.Name, err)
	}
	return rec, nil
}

// GetAnalysis looks an analysis up by its unique name.
// Absence is reported as NotFound, never as an error.
func (c *SQLCatalog) GetAnalysis(ctx context.Context, name string) (models.Lookup[models.AnalysisRecord], error) {
	var rec models.AnalysisRecord
	err := retryOnBusy(ctx, func() error {
		row := c.db.QueryRowContext(ctx, c.rebind("SELECT "+analysisColumns+" FROM analyses WHERE name = ?"), name)
		var scanErr error
		rec, scanErr = scanAnalysis(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFound[models.AnalysisRecord](), nil
	}
	if err != nil {
		return models.Lookup[models.AnalysisRecord]{}, fmt.Errorf("get analysis %s: %w", name, err)
	}
	return models.Found(rec), nil
}

// CreateAnalysis inserts a new analysis. A name that already exists yields an error matching lib.ErrConflict
func (c *SQLCatalog) CreateAnalysis(ctx context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.AnalysisStatusIdle
	}

	if err := rec.Validate(); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("invalid analysis: %w", err)
	}

	lanes, err := encodeJSON(nonNilStrings(rec.InputLanes))
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	ids, err := encodeJSON(nonNilIDs(rec.InputIDs))
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	extra, err := encodeJSON(nonNilExtra(rec.Extra))
	if err != nil {
		return models.AnalysisRecord{}, err
	}

	id, err := c.insertReturningID(ctx,
		`INSERT INTO analyses (name, analysis_type, status, jira_ticket, library_id, version,
			input_lanes, input_ids, logfile, error_message, extra,
			created_at, updated_at, started_at, finished_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		rec.Name, string(rec.Type), string(rec.Status), rec.JiraTicket, rec.LibraryID, rec.Version,
		lanes, ids, rec.LogFile, rec.ErrorMessage, extra,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		formatOptionalTime(rec.StartedAt), formatOptionalTime(rec.FinishedAt), int64(rec.Duration),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.AnalysisRecord{}, lib.ErrDuplicateRecord("analysis", rec.Name, err)
		}
		return models.AnalysisRecord{}, fmt.Errorf("create analysis %s: %w", rec.Name, err)
	}

	rec.ID = id
	return rec, nil
}

// TransitionAnalysis moves an analysis from one status to another and writes the update fields.
// The write only happens when the stored status still equals from; otherwise the
// returned error matches lib.ErrConflict and carries the status actually found.
func (c *SQLCatalog) TransitionAnalysis(ctx context.Context, name string, from, to models.AnalysisStatus, update models.AnalysisUpdate) (models.AnalysisRecord, error) {
	if !from.CanTransitionTo(to) {
		return models.AnalysisRecord{}, lib.ErrInvalidTransition(name, string(from), string(to))
	}

	current, err := c.requireAnalysis(ctx, name)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	if current.Status != from {
		return models.AnalysisRecord{}, lib.ErrStaleTransition(name, string(from), string(to), string(current.Status))
	}

	next := models.ApplyUpdate(models.WithStatus(current, to), update)
	affected, err := c.writeAnalysis(ctx, next, &from)
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("transition analysis %s: %w", name, err)
	}
	if affected == 0 {
		// Lost a race between the read and the conditional write
		actual, getErr := c.requireAnalysis(ctx, name)
		if getErr != nil {
			return models.AnalysisRecord{}, getErr
		}
		return models.AnalysisRecord{}, lib.ErrStaleTransition(name, string(from), string(to), string(actual.Status))
	}
	return next, nil
}

// UpdateAnalysis writes non-status fields of an analysis
func (c *SQLCatalog) UpdateAnalysis(ctx context.Context, name string, update models.AnalysisUpdate) (models.AnalysisRecord, error) {
	current, err := c.requireAnalysis(ctx, name)
	if err != nil {
		return models.AnalysisRecord{}, err
	}

	next := models.ApplyUpdate(current, update)
	next.UpdatedAt = time.Now().UTC()
	if _, err := c.writeAnalysis(ctx, next, nil); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("update analysis %s: %w", name, err)
	}
	return next, nil
}

// ListAnalyses returns analyses matching the filter ordered by creation
func (c *SQLCatalog) ListAnalyses(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "analysis_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.LibraryID != "" {
		clauses = append(clauses, "library_id = ?")
		args = append(args, filter.LibraryID)
	}

	q := "SELECT " + analysisColumns + " FROM analyses"
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY id"

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *SQLCatalog) requireAnalysis(ctx context.Context, name string) (models.AnalysisRecord, error) {
	found, err := c.GetAnalysis(ctx, name)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	rec, ok := found.Get()
	if !ok {
		return models.AnalysisRecord{}, lib.ErrAnalysisNotFound(name)
	}
	return rec, nil
}

// writeAnalysis persists every mutable column. When expected is set the row is only
// written if its stored status still matches
func (c *SQLCatalog) writeAnalysis(ctx context.Context, rec models.AnalysisRecord, expected *models.AnalysisStatus) (int64, error) {
	ids, err := encodeJSON(nonNilIDs(rec.InputIDs))
	if err != nil {
		return 0, err
	}
	extra, err := encodeJSON(nonNilExtra(rec.Extra))
	if err != nil {
		return 0, err
	}

	// Status is only written by conditional transitions
	set := "version = ?, input_ids = ?, logfile = ?, error_message = ?, extra = ?, updated_at = ?, started_at = ?, finished_at = ?, duration_ns = ?"
	args := []any{
		rec.Version, ids, rec.LogFile, rec.ErrorMessage, extra,
		formatTime(rec.UpdatedAt), formatOptionalTime(rec.StartedAt), formatOptionalTime(rec.FinishedAt), int64(rec.Duration),
	}
	where := " WHERE id = ?"
	args = append(args, rec.ID)
	if expected != nil {
		set = "status = ?, " + set
		args = append([]any{string(rec.Status)}, args...)
		where += " AND status = ?"
		args = append(args, string(*expected))
	}
	q := "UPDATE analyses SET " + set + where

	res, err := c.exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilIDs(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}

func nonNilExtra(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
