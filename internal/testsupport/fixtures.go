package testsupport

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// Logger returns a logger that discards everything
func Logger() *lib.Logger {
	return lib.NewLoggerWithWriter(lib.LogLevelDebug, io.Discard)
}

// NewLibrary builds a human library with one sequencing holding the given lanes.
// Lanes are written as {flowcell}_{lane}
func NewLibrary(id string, requested int, lanes ...string) models.Library {
	seq := models.Sequencing{ID: 1, LanesRequested: requested}
	for i, label := range lanes {
		flowCell, lane, _ := strings.Cut(label, "_")
		seq.Lanes = append(seq.Lanes, models.Lane{ID: int64(i + 1), FlowCellID: flowCell, LaneNumber: lane})
	}
	return models.Library{
		ID:          id,
		SampleID:    "SA" + id,
		TaxonomyID:  "9606",
		JiraTicket:  "SC-1",
		Sequencings: []models.Sequencing{seq},
	}
}

// ProjectConfig returns a configuration whose storages live under root:
// "local" serves as local results and working storage, "remote" holds the inputs
func ProjectConfig(root string) *models.ProjectConfig {
	cfg := models.DefaultConfig()
	cfg.Storages = models.StorageConfig{
		LocalResults:  "local",
		WorkingInputs: "local",
		RemoteInputs:  "remote",
		Definitions: []models.Storage{
			{Name: "local", Kind: models.StorageKindServer, Directory: filepath.Join(root, "local")},
			{Name: "remote", Kind: models.StorageKindServer, Directory: filepath.Join(root, "remote")},
		},
	}
	cfg.LocksDir = filepath.Join(root, "locks")
	cfg.Pipeline.Version = "v0.2.0"
	return &cfg
}
