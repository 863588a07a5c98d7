package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// CreateDataset registers a dataset with its files, each present on the dataset's storages
func (c *SQLCatalog) CreateDataset(ctx context.Context, ds models.Dataset) (models.Dataset, error) {
	if ds.Name == "" || ds.LibraryID == "" {
		return models.Dataset{}, fmt.Errorf("dataset name and library_id are required")
	}
	lanes, err := encodeJSON(nonNilStrings(ds.Lanes))
	if err != nil {
		return models.Dataset{}, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("begin dataset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, c.rebind(
		`INSERT INTO datasets (name, kind, dataset_type, library_id, lanes, reference_genome, aligner, analysis_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		ds.Name, string(ds.Kind), ds.DatasetType, ds.LibraryID, lanes, ds.ReferenceGenome, ds.Aligner, ds.AnalysisID,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Dataset{}, lib.ErrDuplicateRecord("dataset", ds.Name, err)
		}
		return models.Dataset{}, fmt.Errorf("create dataset %s: %w", ds.Name, err)
	}

	for _, path := range ds.Files {
		var fileID int64
		if err := tx.QueryRowContext(ctx, c.rebind(
			`INSERT INTO file_resources (dataset_id, path, size) VALUES (?, ?, 0) RETURNING id`),
			id, path,
		).Scan(&fileID); err != nil {
			return models.Dataset{}, fmt.Errorf("add file %s to dataset %s: %w", path, ds.Name, err)
		}
		for _, storage := range ds.Storages {
			if _, err := tx.ExecContext(ctx, c.rebind(
				`INSERT INTO file_instances (file_resource_id, storage) VALUES (?, ?) ON CONFLICT DO NOTHING`),
				fileID, storage,
			); err != nil {
				return models.Dataset{}, fmt.Errorf("add instance of %s on %s: %w", path, storage, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Dataset{}, fmt.Errorf("commit dataset %s: %w", ds.Name, err)
	}
	ds.ID = id
	return ds, nil
}

// ListDatasets returns datasets matching the filter ordered by id, with their files and storages
func (c *SQLCatalog) ListDatasets(ctx context.Context, filter models.DatasetFilter) ([]models.Dataset, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if filter.Kind != "" {
		add("kind = ?", string(filter.Kind))
	}
	if filter.DatasetType != "" {
		add("dataset_type = ?", filter.DatasetType)
	}
	if filter.LibraryID != "" {
		add("library_id = ?", filter.LibraryID)
	}
	if filter.ReferenceGenome != "" {
		add("reference_genome = ?", filter.ReferenceGenome)
	}
	if filter.Aligner != "" {
		add("aligner = ?", filter.Aligner)
	}
	if filter.AnalysisID != 0 {
		add("analysis_id = ?", filter.AnalysisID)
	}

	q := `SELECT id, name, kind, dataset_type, library_id, lanes, reference_genome, aligner, analysis_id FROM datasets`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY id"

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	var datasets []models.Dataset
	for rows.Next() {
		var (
			ds         models.Dataset
			kind, lane string
		)
		if err := rows.Scan(&ds.ID, &ds.Name, &kind, &ds.DatasetType, &ds.LibraryID, &lane,
			&ds.ReferenceGenome, &ds.Aligner, &ds.AnalysisID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		ds.Kind = models.DatasetKind(kind)
		if err := decodeJSON(lane, &ds.Lanes); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode lanes of dataset %s: %w", ds.Name, err)
		}
		if coversAnyLane(ds.Lanes, filter.Lanes) {
			datasets = append(datasets, ds)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// The sqlite pool has a single connection: close before issuing the file queries
	_ = rows.Close()

	for i := range datasets {
		if err := c.loadDatasetFiles(ctx, &datasets[i]); err != nil {
			return nil, err
		}
	}
	return datasets, nil
}

func coversAnyLane(datasetLanes, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, l := range datasetLanes {
		for _, w := range wanted {
			if l == w {
				return true
			}
		}
	}
	return false
}

// loadDatasetFiles fills Files and the storages that hold every file of the dataset
func (c *SQLCatalog) loadDatasetFiles(ctx context.Context, ds *models.Dataset) error {
	rows, err := c.query(ctx,
		`SELECT f.id, f.path, COALESCE(i.storage, '')
		FROM file_resources f LEFT JOIN file_instances i ON i.file_resource_id = f.id
		WHERE f.dataset_id = ? ORDER BY f.id`, ds.ID)
	if err != nil {
		return fmt.Errorf("load files of dataset %s: %w", ds.Name, err)
	}
	defer func() { _ = rows.Close() }()

	perFile := make(map[int64]map[string]bool)
	var order []int64
	paths := make(map[int64]string)
	for rows.Next() {
		var (
			fileID  int64
			path    string
			storage string
		)
		if err := rows.Scan(&fileID, &path, &storage); err != nil {
			return fmt.Errorf("scan file of dataset %s: %w", ds.Name, err)
		}
		if _, ok := perFile[fileID]; !ok {
			perFile[fileID] = make(map[string]bool)
			order = append(order, fileID)
			paths[fileID] = path
		}
		if storage != "" {
			perFile[fileID][storage] = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ds.Files = ds.Files[:0]
	for _, id := range order {
		ds.Files = append(ds.Files, paths[id])
	}

	ds.Storages = nil
	if len(order) == 0 {
		return nil
	}
	for storage := range perFile[order[0]] {
		everywhere := true
		for _, id := range order[1:] {
			if !perFile[id][storage] {
				everywhere = false
				break
			}
		}
		if everywhere {
			ds.Storages = append(ds.Storages, storage)
		}
	}
	sort.Strings(ds.Storages)
	return nil
}

// Tag groups datasets under a name, creating the tag if needed.
// Tagging the same datasets twice is a no-op.
func (c *SQLCatalog) Tag(ctx context.Context, name string, datasetIDs []int64) (models.Tag, error) {
	tag, err := c.getOrCreateTag(ctx, name)
	if err != nil {
		return models.Tag{}, err
	}

	for _, id := range datasetIDs {
		if _, err := c.exec(ctx,
			`INSERT INTO tag_members (tag_id, dataset_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			tag.ID, id,
		); err != nil {
			return models.Tag{}, fmt.Errorf("tag dataset %d with %s: %w", id, name, err)
		}
	}

	rows, err := c.query(ctx, `SELECT dataset_id FROM tag_members WHERE tag_id = ? ORDER BY dataset_id`, tag.ID)
	if err != nil {
		return models.Tag{}, fmt.Errorf("list members of tag %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return models.Tag{}, err
		}
		tag.MemberIDs = append(tag.MemberIDs, id)
	}
	return tag, rows.Err()
}

func (c *SQLCatalog) getOrCreateTag(ctx context.Context, name string) (models.Tag, error) {
	tag := models.Tag{Name: name}
	var createdAt string
	err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx, c.rebind(`SELECT id, created_at FROM tags WHERE name = ?`), name).Scan(&tag.ID, &createdAt)
	})
	switch {
	case err == nil:
		tag.CreatedAt, err = parseTime(createdAt)
		return tag, err
	case !errors.Is(err, sql.ErrNoRows):
		return models.Tag{}, fmt.Errorf("get tag %s: %w", name, err)
	}

	tag.CreatedAt = time.Now().UTC()
	tag.ID, err = c.insertReturningID(ctx, `INSERT INTO tags (name, created_at) VALUES (?, ?) RETURNING id`, name, formatTime(tag.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			// Created concurrently; use theirs
			return c.getOrCreateTag(ctx, name)
		}
		return models.Tag{}, fmt.Errorf("create tag %s: %w", name, err)
	}
	return tag, nil
}

// TaggedFiles returns every file of every dataset in the tag
func (c *SQLCatalog) TaggedFiles(ctx context.Context, tag string) ([]models.FileResource, error) {
	rows, err := c.query(ctx,
		`SELECT f.id, f.dataset_id, f.path, f.size
		FROM tags t
		JOIN tag_members m ON m.tag_id = t.id
		JOIN file_resources f ON f.dataset_id = m.dataset_id
		WHERE t.name = ?
		ORDER BY f.id`, tag)
	if err != nil {
		return nil, fmt.Errorf("list files of tag %s: %w", tag, err)
	}
	defer func() { _ = rows.Close() }()

	var files []models.FileResource
	for rows.Next() {
		var f models.FileResource
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.Path, &f.Size); err != nil {
			return nil, fmt.Errorf("scan file of tag %s: %w", tag, err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// HasFileInstance reports whether the catalog records the file on the storage
func (c *SQLCatalog) HasFileInstance(ctx context.Context, fileID int64, storage string) (bool, error) {
	var n int
	err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx, c.rebind(
			`SELECT COUNT(1) FROM file_instances WHERE file_resource_id = ? AND storage = ?`), fileID, storage).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("check instance of file %d on %s: %w", fileID, storage, err)
	}
	return n > 0, nil
}

// AddFileInstance records that the file now exists on the storage
func (c *SQLCatalog) AddFileInstance(ctx context.Context, fileID int64, storage string, size int64) error {
	if _, err := c.exec(ctx,
		`INSERT INTO file_instances (file_resource_id, storage) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		fileID, storage,
	); err != nil {
		return fmt.Errorf("add instance of file %d on %s: %w", fileID, storage, err)
	}
	if size > 0 {
		if _, err := c.exec(ctx, `UPDATE file_resources SET size = ? WHERE id = ?`, size, fileID); err != nil {
			return fmt.Errorf("record size of file %d: %w", fileID, err)
		}
	}
	return nil
}
