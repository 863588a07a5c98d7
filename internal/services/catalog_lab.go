package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// GetLibrary returns a library with its sequencings and lanes
func (c *SQLCatalog) GetLibrary(ctx context.Context, libraryID string) (models.Lookup[models.Library], error) {
	var (
		library models.Library
		exclude int
	)
	err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx, c.rebind(
			`SELECT pool_id, sample_id, taxonomy_id, jira_ticket, exclude_from_analysis FROM libraries WHERE pool_id = ?`),
			libraryID,
		).Scan(&library.ID, &library.SampleID, &library.TaxonomyID, &library.JiraTicket, &exclude)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFound[models.Library](), nil
	}
	if err != nil {
		return models.Lookup[models.Library]{}, fmt.Errorf("get library %s: %w", libraryID, err)
	}
	library.ExcludeFromAnalysis = exclude != 0

	if err := c.loadSequencings(ctx, &library); err != nil {
		return models.Lookup[models.Library]{}, err
	}
	return models.Found(library), nil
}

// ListLibraries returns every library that is not excluded from analysis
func (c *SQLCatalog) ListLibraries(ctx context.Context) ([]models.Library, error) {
	rows, err := c.query(ctx, `SELECT pool_id FROM libraries WHERE exclude_from_analysis = 0 ORDER BY pool_id`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	libraries := make([]models.Library, 0, len(ids))
	for _, id := range ids {
		found, err := c.GetLibrary(ctx, id)
		if err != nil {
			return nil, err
		}
		if l, ok := found.Get(); ok {
			libraries = append(libraries, l)
		}
	}
	return libraries, nil
}

func (c *SQLCatalog) loadSequencings(ctx context.Context, l *models.Library) error {
	rows, err := c.query(ctx,
		`SELECT s.id, s.number_of_lanes_requested, COALESCE(ln.id, 0), COALESCE(ln.flow_cell_id, ''), COALESCE(ln.lane_number, '')
		FROM sequencings s LEFT JOIN lanes ln ON ln.sequencing_id = s.id
		WHERE s.pool_id = ?
		ORDER BY s.id, ln.id`, l.ID)
	if err != nil {
		return fmt.Errorf("load sequencings of %s: %w", l.ID, err)
	}
	defer func() { _ = rows.Close() }()

	l.Sequencings = nil
	for rows.Next() {
		var (
			seqID     int64
			requested int
			lane      models.Lane
		)
		if err := rows.Scan(&seqID, &requested, &lane.ID, &lane.FlowCellID, &lane.LaneNumber); err != nil {
			return fmt.Errorf("scan sequencing of %s: %w", l.ID, err)
		}
		n := len(l.Sequencings)
		if n == 0 || l.Sequencings[n-1].ID != seqID {
			l.Sequencings = append(l.Sequencings, models.Sequencing{ID: seqID, LanesRequested: requested})
			n++
		}
		if lane.ID != 0 {
			l.Sequencings[n-1].Lanes = append(l.Sequencings[n-1].Lanes, lane)
		}
	}
	return rows.Err()
}

// CreateAnalysisInformation mirrors a newly created analysis into the lab tables.
// A ticket that is already mirrored yields an error matching lib.ErrConflict
func (c *SQLCatalog) CreateAnalysisInformation(ctx context.Context, info models.AnalysisInformation) error {
	seqs, err := encodeJSON(nonNilIDs(info.SequencingIDs))
	if err != nil {
		return err
	}
	lanes, err := encodeJSON(nonNilIDs(info.LaneIDs))
	if err != nil {
		return err
	}
	status := info.RunStatus
	if status == "" {
		status = string(models.AnalysisStatusIdle)
	}

	_, err = c.exec(ctx,
		`INSERT INTO analysis_information (library_id, analysis_jira_ticket, version, reference_genome, aligner,
			priority, smoothing, sequencings, lanes, run_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.LibraryID, info.JiraTicket, info.Version, info.ReferenceGenome, info.Aligner,
		info.Priority, info.Smoothing, seqs, lanes, status, formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return lib.ErrDuplicateRecord("analysis information", info.JiraTicket, err)
		}
		return fmt.Errorf("create analysis information for %s: %w", info.JiraTicket, err)
	}
	return nil
}

// UpdateAnalysisInformationStatus mirrors a run status change into the lab tables
func (c *SQLCatalog) UpdateAnalysisInformationStatus(ctx context.Context, jiraTicket string, status models.AnalysisStatus) error {
	if _, err := c.exec(ctx,
		`UPDATE analysis_information SET run_status = ? WHERE analysis_jira_ticket = ?`,
		string(status), jiraTicket,
	); err != nil {
		return fmt.Errorf("update run status of %s: %w", jiraTicket, err)
	}
	return nil
}

type statement struct {
	query string
	args  []any
}

// PutLibrary inserts or replaces a library with its sequencings and lanes
func (c *SQLCatalog) PutLibrary(ctx context.Context, l models.Library) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid library %s: %w", l.ID, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin library tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []statement{
		{`DELETE FROM lanes WHERE sequencing_id IN (SELECT id FROM sequencings WHERE pool_id = ?)`, []any{l.ID}},
		{`DELETE FROM sequencings WHERE pool_id = ?`, []any{l.ID}},
		{`DELETE FROM libraries WHERE pool_id = ?`, []any{l.ID}},
		{`INSERT INTO libraries (pool_id, sample_id, taxonomy_id, jira_ticket, exclude_from_analysis) VALUES (?, ?, ?, ?, ?)`,
			[]any{l.ID, l.SampleID, l.TaxonomyID, l.JiraTicket, boolToInt(l.ExcludeFromAnalysis)}},
	}
	for _, s := range l.Sequencings {
		stmts = append(stmts, statement{`INSERT INTO sequencings (id, pool_id, number_of_lanes_requested) VALUES (?, ?, ?)`, []any{s.ID, l.ID, s.LanesRequested}})
		for _, lane := range s.Lanes {
			stmts = append(stmts, statement{`INSERT INTO lanes (id, sequencing_id, flow_cell_id, lane_number) VALUES (?, ?, ?, ?)`, []any{lane.ID, s.ID, lane.FlowCellID, lane.LaneNumber}})
		}
	}

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, c.rebind(s.query), s.args...); err != nil {
			return fmt.Errorf("store library %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}
