package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func kindRunContext(lanes ...string) pipeline.RunContext {
	return pipeline.RunContext{
		Record:          models.AnalysisRecord{ID: 7, Name: "sc_hmmcopy_BWA_MEM_0_7_6A_HG19_L1_0123abcd"},
		Library:         testsupport.NewLibrary("L1", len(lanes), lanes...),
		Aligner:         "BWA_MEM_0_7_6A",
		ReferenceGenome: "HG19",
		Lanes:           lanes,
		ResultsDir:      "singlecelldata/results/SC-100/results",
		WorkingStorage:  "shahlab",
	}
}

func bamDataset(lane, reference, aligner string) models.Dataset {
	return models.Dataset{
		Name:            "L1_" + lane + "_" + reference,
		Kind:            models.DatasetKindSequence,
		DatasetType:     pipeline.DatasetTypeBAM,
		LibraryID:       "L1",
		Lanes:           []string{lane},
		ReferenceGenome: reference,
		Aligner:         aligner,
		Files:           []string{lane + ".bam"},
	}
}

func TestKindFor(t *testing.T) {
	for _, typ := range []models.AnalysisType{models.AnalysisTypeAlign, models.AnalysisTypeHmmcopy, models.AnalysisTypePseudobulk} {
		k, err := pipeline.KindFor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, k.Type)
	}

	_, err := pipeline.KindFor("annotation")
	assert.True(t, errors.Is(err, lib.ErrConfiguration))
}

func TestSearchInputDatasetsMatchesBuild(t *testing.T) {
	catalog := testsupport.NewCatalog()
	match := catalog.PutDataset(bamDataset("FC1_1", "HG19", "BWA_MEM_0_7_6A"))
	catalog.PutDataset(bamDataset("FC1_1", "MM10", "BWA_MEM_0_7_6A"))
	catalog.PutDataset(bamDataset("FC1_1", "HG19", "BWA_ALN_0_5_7"))

	kind, err := pipeline.KindFor(models.AnalysisTypeHmmcopy)
	require.NoError(t, err)

	datasets, err := kind.SearchInputDatasets(context.Background(), catalog, kindRunContext("FC1_1"))
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, match.ID, datasets[0].ID)
}

func TestSearchInputDatasetsRequiresEveryLane(t *testing.T) {
	catalog := testsupport.NewCatalog()
	catalog.PutDataset(models.Dataset{
		Name: "L1_FC1_1", Kind: models.DatasetKindSequence, DatasetType: pipeline.DatasetTypeFastq,
		LibraryID: "L1", Lanes: []string{"FC1_1"},
	})
	kind, err := pipeline.KindFor(models.AnalysisTypeAlign)
	require.NoError(t, err)

	_, err = kind.SearchInputDatasets(context.Background(), catalog, kindRunContext("FC1_1", "FC2_1"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, lib.ErrNotFound))
	assert.Contains(t, err.Error(), "FC2_1")
}

func TestSearchInputResultsFollowsUpstream(t *testing.T) {
	catalog := testsupport.NewCatalog()
	ctx := context.Background()
	rc := kindRunContext("FC1_1")

	align, err := pipeline.KindFor(models.AnalysisTypeAlign)
	require.NoError(t, err)
	none, err := align.SearchInputResults(ctx, catalog, rc)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Zero(t, catalog.Log.Count("ListDatasets"), "align has no upstream")

	pseudobulk, err := pipeline.KindFor(models.AnalysisTypePseudobulk)
	require.NoError(t, err)
	_, err = pseudobulk.SearchInputResults(ctx, catalog, rc)
	assert.True(t, errors.Is(err, lib.ErrNotFound))

	upstream := catalog.PutDataset(models.Dataset{
		Name: "sc_hmmcopy_upstream", Kind: models.DatasetKindResults, DatasetType: string(models.AnalysisTypeHmmcopy),
		LibraryID: "L1", ReferenceGenome: "HG19", Aligner: "BWA_MEM_0_7_6A",
	})
	results, err := pseudobulk.SearchInputResults(ctx, catalog, rc)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, upstream.ID, results[0].ID)
}

func TestOutputsSplitReportedFiles(t *testing.T) {
	meta := pipeline.ResultsMetadata{Filenames: []string{"metrics.csv.gz", "L1.bam.bai", "L1.bam", "plots/qc.pdf"}}
	rc := kindRunContext("FC1_1")

	align, err := pipeline.KindFor(models.AnalysisTypeAlign)
	require.NoError(t, err)
	bams := align.OutputDatasets(rc, meta)
	require.Len(t, bams, 1)
	assert.Equal(t, rc.Record.Name+"_bam", bams[0].Name)
	assert.Equal(t, pipeline.DatasetTypeBAM, bams[0].DatasetType)
	assert.Equal(t, []string{
		"singlecelldata/results/SC-100/results/L1.bam",
		"singlecelldata/results/SC-100/results/L1.bam.bai",
	}, bams[0].Files)
	assert.Equal(t, []string{"shahlab"}, bams[0].Storages)

	results := align.OutputResults(rc, meta)
	assert.Equal(t, models.DatasetKindResults, results.Kind)
	assert.Equal(t, int64(7), results.AnalysisID)
	assert.Equal(t, []string{
		"singlecelldata/results/SC-100/results/metrics.csv.gz",
		"singlecelldata/results/SC-100/results/plots/qc.pdf",
	}, results.Files)

	hmmcopy, err := pipeline.KindFor(models.AnalysisTypeHmmcopy)
	require.NoError(t, err)
	assert.Nil(t, hmmcopy.OutputDatasets(rc, meta))
	assert.Len(t, hmmcopy.OutputResults(rc, meta).Files, 4)
}

func TestKindManifestListsInputs(t *testing.T) {
	rc := kindRunContext("FC1_1")
	kind, err := pipeline.KindFor(models.AnalysisTypeHmmcopy)
	require.NoError(t, err)

	m := kind.Manifest(rc,
		[]models.Dataset{bamDataset("FC1_1", "HG19", "BWA_MEM_0_7_6A")},
		[]models.Dataset{{Name: "upstream", DatasetType: "align", Files: []string{"r/metrics.csv"}}},
	)

	assert.Equal(t, rc.Record.Name, m.Analysis)
	assert.Equal(t, models.AnalysisTypeHmmcopy, m.Type)
	assert.Equal(t, "shahlab", m.Storage)
	require.Len(t, m.Datasets, 1)
	assert.Equal(t, []string{"FC1_1.bam"}, m.Datasets[0].Files)
	require.Len(t, m.Results, 1)
	assert.NoError(t, m.Validate())
}
