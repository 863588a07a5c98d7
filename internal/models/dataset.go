package models

import (
	"fmt"
	"time"
)

// DatasetKind separates sequence datasets from results datasets
type DatasetKind string

const (
	DatasetKindSequence DatasetKind = "sequence"
	DatasetKindResults  DatasetKind = "results"
)

// Dataset groups file resources produced by sequencing or by an analysis
type Dataset struct {
	ID              int64       `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Kind            DatasetKind `json:"kind" yaml:"kind"`
	DatasetType     string      `json:"dataset_type" yaml:"dataset_type"`             // FQ, BAM, hmmcopy, ...
	LibraryID       string      `json:"library_id" yaml:"library_id"`
	Lanes           []string    `json:"lanes,omitempty" yaml:"lanes,omitempty"`
	ReferenceGenome string      `json:"reference_genome,omitempty" yaml:"reference_genome,omitempty"`
	Aligner         string      `json:"aligner,omitempty" yaml:"aligner,omitempty"`
	AnalysisID      int64       `json:"analysis_id,omitempty" yaml:"analysis_id,omitempty"`
	Files           []string    `json:"files,omitempty" yaml:"files,omitempty"`       // Paths relative to the storage root
	Storages        []string    `json:"storages,omitempty" yaml:"storages,omitempty"` // Storages holding every file
}

// DatasetFilter narrows ListDatasets queries. Zero values match everything
type DatasetFilter struct {
	Kind            DatasetKind
	DatasetType     string
	LibraryID       string
	ReferenceGenome string
	Aligner         string
	AnalysisID      int64
	Lanes           []string // Datasets must cover at least one of these lanes
}

// FileResource is one file of a dataset
type FileResource struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	Path      string `json:"path"` // Relative to the storage root
	Size      int64  `json:"size"`
}

// Tag groups catalog datasets under a name
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []int64   `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// StorageKind distinguishes server (filesystem) from blob (object store) storages
type StorageKind string

const (
	StorageKindServer StorageKind = "server"
	StorageKindBlob   StorageKind = "blob"
)

// Storage is a named storage tier resolving to a root path or bucket prefix
type Storage struct {
	Name      string      `json:"name" yaml:"name" mapstructure:"name"`
	Kind      StorageKind `json:"storage_type" yaml:"storage_type" mapstructure:"storage_type"`
	Directory string      `json:"storage_directory,omitempty" yaml:"storage_directory,omitempty" mapstructure:"storage_directory"`
	Bucket    string      `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	Prefix    string      `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region    string      `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
	Endpoint  string      `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	PathStyle bool        `json:"path_style,omitempty" yaml:"path_style,omitempty" mapstructure:"path_style"`
}

// TransferBatch is the group of dataset ids moved by a single copy operation
type TransferBatch struct {
	Name       string  `json:"name"`
	DatasetIDs []int64 `json:"dataset_ids"`
	From       string  `json:"from_storage"`
	To         string  `json:"to_storage"`
	Results    bool    `json:"results"`
}

// BatchName derives the tag name for a transfer batch: {run_id}_{from}[_results]
func BatchName(runID string, fromStorage string, results bool) string {
	name := fmt.Sprintf("%s_%s", runID, fromStorage)
	if results {
		name += "_results"
	}
	return name
}

