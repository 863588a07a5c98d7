package pipeline

import (
	"context"

	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
)

// Catalog is the metadata catalog holding analyses, datasets and tags.
// CreateAnalysis must fail with lib.ErrConflict when the name is taken, and
// TransitionAnalysis must only write when the stored status equals from
type Catalog interface {
	GetAnalysis(ctx context.Context, name string) (models.Lookup[models.AnalysisRecord], error)
	CreateAnalysis(ctx context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error)
	UpdateAnalysis(ctx context.Context, name string, update models.AnalysisUpdate) (models.AnalysisRecord, error)
	TransitionAnalysis(ctx context.Context, name string, from, to models.AnalysisStatus, update models.AnalysisUpdate) (models.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, error)
	ListDatasets(ctx context.Context, filter models.DatasetFilter) ([]models.Dataset, error)
	CreateDataset(ctx context.Context, ds models.Dataset) (models.Dataset, error)
	Tag(ctx context.Context, name string, datasetIDs []int64) (models.Tag, error)
}

// LabCatalog is the lab side of the catalog: libraries, their lanes and the
// analysis information mirrored for the lab
type LabCatalog interface {
	GetLibrary(ctx context.Context, libraryID string) (models.Lookup[models.Library], error)
	ListLibraries(ctx context.Context) ([]models.Library, error)
	CreateAnalysisInformation(ctx context.Context, info models.AnalysisInformation) error
	UpdateAnalysisInformationStatus(ctx context.Context, jiraTicket string, status models.AnalysisStatus) error
}

// Ticketing creates and annotates issue tracker tickets
type Ticketing interface {
	CreateSubtask(ctx context.Context, parent string, title string) (string, error)
	UpdateTicket(ctx context.Context, id string, fields map[string]any) error
	AddComment(ctx context.Context, id string, comment string) error
}

// Storage copies every file of a tag between named storages
type Storage interface {
	Copy(ctx context.Context, tag string, from string, to string) error
}

// FileReader reads a single file from a named storage
type FileReader interface {
	ReadFile(ctx context.Context, storage string, key string) ([]byte, error)
}

// Launcher runs the external pipeline and blocks until it exits
type Launcher interface {
	Launch(ctx context.Context, inv services.PipelineInvocation) error
}

// Compile-time checks that the concrete services satisfy the collaborator contracts
var (
	_ Catalog    = (*services.SQLCatalog)(nil)
	_ LabCatalog = (*services.SQLCatalog)(nil)
	_ Ticketing  = (*services.JiraClient)(nil)
	_ Storage    = (*services.StorageManager)(nil)
	_ FileReader = (*services.StorageManager)(nil)
	_ Launcher   = (*services.CommandLauncher)(nil)
)
