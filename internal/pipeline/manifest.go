package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/trobanga/sisyphus/internal/models"
)

// ManifestFileName is the run manifest written into the pipeline directory
const ManifestFileName = "inputs.yaml"

// MetadataFileName is the file the pipeline writes next to its results
const MetadataFileName = "metadata.yaml"

// Manifest lists the inputs of one pipeline run. Paths are relative to the
// root of the working storage
type Manifest struct {
	Analysis        string              `yaml:"analysis"`
	Type            models.AnalysisType `yaml:"analysis_type"`
	LibraryID       string              `yaml:"library_id"`
	ReferenceGenome string              `yaml:"reference_genome"`
	Aligner         string              `yaml:"aligner"`
	Storage         string              `yaml:"storage"`
	Datasets        []ManifestDataset   `yaml:"datasets"`
	Results         []ManifestDataset   `yaml:"results,omitempty"`
}

// ManifestDataset is one input dataset of a run
type ManifestDataset struct {
	Name        string   `yaml:"name"`
	DatasetType string   `yaml:"dataset_type"`
	Lanes       []string `yaml:"lanes,omitempty"`
	Files       []string `yaml:"files"`
}

// ResultsMetadata is what the pipeline reports about its outputs.
// Filenames are relative to the directory holding the metadata file
type ResultsMetadata struct {
	Filenames []string       `yaml:"filenames"`
	Meta      map[string]any `yaml:"meta,omitempty"`
}

func manifestDatasets(datasets []models.Dataset) []ManifestDataset {
	out := make([]ManifestDataset, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, ManifestDataset{
			Name:        ds.Name,
			DatasetType: ds.DatasetType,
			Lanes:       ds.Lanes,
			Files:       ds.Files,
		})
	}
	return out
}

// Validate checks that a manifest names at least one input file
func (m *Manifest) Validate() error {
	if m.Analysis == "" {
		return errors.New("manifest analysis is required")
	}
	if m.LibraryID == "" {
		return errors.New("manifest library_id is required")
	}
	for _, ds := range m.Datasets {
		if len(ds.Files) > 0 {
			return nil
		}
	}
	return errors.New("manifest lists no input files")
}

// WriteManifest writes a manifest as YAML, creating the directory if needed
func WriteManifest(path string, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads and validates a manifest file
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseResultsMetadata decodes the metadata file of a results directory
func ParseResultsMetadata(data []byte) (ResultsMetadata, error) {
	var meta ResultsMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse results metadata: %w", err)
	}
	if len(meta.Filenames) == 0 {
		return meta, errors.New("results metadata lists no files")
	}
	return meta, nil
}
