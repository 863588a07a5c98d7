package services

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/ui"
)

// FileCatalog is the part of the catalog a storage copy reads and writes
type FileCatalog interface {
	TaggedFiles(ctx context.Context, tag string) ([]models.FileResource, error)
	HasFileInstance(ctx context.Context, fileID int64, storage string) (bool, error)
	AddFileInstance(ctx context.Context, fileID int64, storage string, size int64) error
}

// StorageManager copies tagged files between named storage tiers and records
// the new file instances in the catalog
type StorageManager struct {
	storages models.StorageConfig
	catalog  FileCatalog
	logger   *lib.Logger
	progress io.Writer
	retry    lib.RetryConfig

	mu       sync.Mutex
	backends map[string]Backend
}

// NewStorageManager creates a storage manager over the configured storage definitions.
// Progress bars are written to progress; pass io.Discard to silence them
func NewStorageManager(storages models.StorageConfig, catalog FileCatalog, logger *lib.Logger, progress io.Writer) *StorageManager {
	if progress == nil {
		progress = io.Discard
	}
	return &StorageManager{
		storages: storages,
		catalog:  catalog,
		logger:   logger,
		progress: progress,
		retry:    lib.RetryConfig{MaxAttempts: 1},
		backends: make(map[string]Backend),
	}
}

// WithRetry makes each file copy retry network failures with exponential backoff
func (m *StorageManager) WithRetry(config models.RetryConfig) *StorageManager {
	m.retry = lib.NewRetryConfigFromModel(config)
	if m.retry.MaxAttempts < 1 {
		m.retry.MaxAttempts = 1
	}
	return m
}

// SetBackend overrides the backend for a named storage
func (m *StorageManager) SetBackend(name string, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[name] = b
}

// Backend resolves a storage name to its backend
func (m *StorageManager) Backend(ctx context.Context, name string) (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[name]; ok {
		return b, nil
	}
	def, ok := m.storages.Lookup(name)
	if !ok {
		return nil, lib.ErrUnknownStorage(name)
	}
	b, err := OpenBackend(ctx, def)
	if err != nil {
		return nil, lib.WrapError(lib.CategoryConfiguration, fmt.Sprintf("cannot open storage %s", name), err)
	}
	m.backends[name] = b
	return b, nil
}

// Copy transfers every file of every dataset in the tag from one storage to another.
// Files already recorded on the destination with matching size are skipped, so a
// failed copy can simply be issued again
func (m *StorageManager) Copy(ctx context.Context, tag string, from string, to string) error {
	src, err := m.Backend(ctx, from)
	if err != nil {
		return err
	}
	dst, err := m.Backend(ctx, to)
	if err != nil {
		return err
	}

	files, err := m.catalog.TaggedFiles(ctx, tag)
	if err != nil {
		return err
	}

	m.logger.Info("Copying tagged files", "tag", tag, "from", from, "to", to, "files", len(files))
	stats := ui.NewTransferStats()

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		present, err := m.alreadyPresent(ctx, dst, f, to)
		if err != nil {
			return err
		}
		if present {
			stats.AddSkipped()
			continue
		}

		var size int64
		err = lib.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			var copyErr error
			size, copyErr = m.copyFile(ctx, src, dst, f, from)
			return copyErr
		}, m.retry, lib.IsNetworkError)
		if err != nil {
			return fmt.Errorf("copy %s from %s to %s: %w", f.Path, from, to, err)
		}
		if err := m.catalog.AddFileInstance(ctx, f.ID, to, size); err != nil {
			return err
		}
		stats.AddFile(size)
	}

	m.logger.Info("Copy finished", "tag", tag, "from", from, "to", to, "summary", stats.Summary())
	return nil
}

// ReadFile reads a whole file from a named storage
func (m *StorageManager) ReadFile(ctx context.Context, storage string, key string) ([]byte, error) {
	b, err := m.Backend(ctx, storage)
	if err != nil {
		return nil, err
	}
	r, _, err := b.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", key, storage, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (m *StorageManager) alreadyPresent(ctx context.Context, dst Backend, f models.FileResource, to string) (bool, error) {
	recorded, err := m.catalog.HasFileInstance(ctx, f.ID, to)
	if err != nil || !recorded {
		return false, err
	}
	size, exists, err := dst.Stat(ctx, f.Path)
	if err != nil {
		return false, err
	}
	return exists && (f.Size == 0 || size == f.Size), nil
}

func (m *StorageManager) copyFile(ctx context.Context, src Backend, dst Backend, f models.FileResource, from string) (int64, error) {
	_, exists, err := src.Stat(ctx, f.Path)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, lib.ErrRecordNotFound("file on storage "+from, f.Path)
	}

	r, size, err := src.Open(ctx, f.Path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	bar := ui.NewProgressBarWithWriter(size, f.Path, m.progress)
	var body io.Reader = r
	if m.progress != io.Discard {
		body = bar.Reader(r)
	}
	if err := dst.Write(ctx, f.Path, body, size); err != nil {
		return 0, err
	}
	_ = bar.Finish()
	return size, nil
}
