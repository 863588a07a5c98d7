package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
)

func TestWriteManifestCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SC-100", pipeline.ManifestFileName)
	m := pipeline.Manifest{
		Analysis:        "sc_align_BWA_MEM_0_7_6A_HG19_L1_0123abcd",
		Type:            models.AnalysisTypeAlign,
		LibraryID:       "L1",
		ReferenceGenome: "HG19",
		Aligner:         "BWA_MEM_0_7_6A",
		Storage:         "shahlab",
		Datasets: []pipeline.ManifestDataset{
			{Name: "L1_FC1_1", DatasetType: "FQ", Lanes: []string{"FC1_1"}, Files: []string{"fastq/FC1_1_R1.fastq.gz"}},
		},
	}

	require.NoError(t, pipeline.WriteManifest(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "analysis_type: align")
	assert.NotContains(t, string(data), "results:")

	got, err := pipeline.ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       pipeline.Manifest
		wantErr string
	}{
		{"missing analysis", pipeline.Manifest{LibraryID: "L1"}, "analysis is required"},
		{"missing library", pipeline.Manifest{Analysis: "a"}, "library_id is required"},
		{
			"datasets without files",
			pipeline.Manifest{Analysis: "a", LibraryID: "L1", Datasets: []pipeline.ManifestDataset{{Name: "empty"}}},
			"no input files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadManifestRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := pipeline.ReadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("datasets: [unterminated"), 0644))
	_, err = pipeline.ReadManifest(broken)
	assert.ErrorContains(t, err, "failed to parse manifest")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("analysis: a\nlibrary_id: L1\n"), 0644))
	_, err = pipeline.ReadManifest(empty)
	assert.ErrorContains(t, err, "invalid manifest")
}

func TestParseResultsMetadata(t *testing.T) {
	meta, err := pipeline.ParseResultsMetadata([]byte("filenames:\n  - a.bam\n  - b.csv\nmeta:\n  cell_count: 12\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bam", "b.csv"}, meta.Filenames)
	assert.Equal(t, 12, meta.Meta["cell_count"])

	_, err = pipeline.ParseResultsMetadata([]byte("meta: {}\n"))
	assert.ErrorContains(t, err, "no files")

	_, err = pipeline.ParseResultsMetadata([]byte("filenames: {"))
	assert.Error(t, err)
}
