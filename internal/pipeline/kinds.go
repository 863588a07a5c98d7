package pipeline

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// Sequence dataset types
const (
	DatasetTypeFastq = "FQ"
	DatasetTypeBAM   = "BAM"
)

// RunContext is what an analysis kind knows about the run it serves
type RunContext struct {
	Record          models.AnalysisRecord
	Library         models.Library
	Aligner         string
	ReferenceGenome string
	Lanes           []string
	ResultsDir      string // Relative to the working storage
	WorkingStorage  string
}

// Kind describes one analysis type: which datasets and upstream results it
// consumes and which datasets it produces
type Kind struct {
	Type        models.AnalysisType
	InputType   string              // Sequence dataset type consumed
	InputBuilt  bool                // Inputs must match the run's reference genome and aligner
	Upstream    models.AnalysisType // Results consumed, empty when none
	OutputType  string              // Sequence dataset type produced, empty when none
	OutputMatch func(file string) bool
}

var kinds = map[models.AnalysisType]Kind{
	models.AnalysisTypeAlign: {
		Type:        models.AnalysisTypeAlign,
		InputType:   DatasetTypeFastq,
		OutputType:  DatasetTypeBAM,
		OutputMatch: isBAMFile,
	},
	models.AnalysisTypeHmmcopy: {
		Type:       models.AnalysisTypeHmmcopy,
		InputType:  DatasetTypeBAM,
		InputBuilt: true,
		Upstream:   models.AnalysisTypeAlign,
	},
	models.AnalysisTypePseudobulk: {
		Type:       models.AnalysisTypePseudobulk,
		InputType:  DatasetTypeBAM,
		InputBuilt: true,
		Upstream:   models.AnalysisTypeHmmcopy,
	},
}

// KindFor returns the kind of an analysis type
func KindFor(t models.AnalysisType) (Kind, error) {
	k, ok := kinds[t]
	if !ok {
		return Kind{}, lib.ErrUnknownAnalysisType(string(t))
	}
	return k, nil
}

func isBAMFile(file string) bool {
	return strings.HasSuffix(file, ".bam") || strings.HasSuffix(file, ".bam.bai")
}

// SearchInputDatasets finds the sequence datasets covering every input lane
func (k Kind) SearchInputDatasets(ctx context.Context, catalog Catalog, rc RunContext) ([]models.Dataset, error) {
	filter := models.DatasetFilter{
		Kind:        models.DatasetKindSequence,
		DatasetType: k.InputType,
		LibraryID:   rc.Library.ID,
		Lanes:       rc.Lanes,
	}
	if k.InputBuilt {
		filter.ReferenceGenome = rc.ReferenceGenome
		filter.Aligner = rc.Aligner
	}

	datasets, err := catalog.ListDatasets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s datasets: %w", k.InputType, err)
	}
	if missing := uncoveredLanes(datasets, rc.Lanes); len(missing) > 0 {
		return nil, lib.ErrRecordNotFound(k.InputType+" datasets",
			fmt.Sprintf("library %s lanes %s", rc.Library.ID, strings.Join(missing, ", ")))
	}
	return datasets, nil
}

// SearchInputResults finds the upstream results the analysis builds on
func (k Kind) SearchInputResults(ctx context.Context, catalog Catalog, rc RunContext) ([]models.Dataset, error) {
	if k.Upstream == "" {
		return nil, nil
	}
	results, err := catalog.ListDatasets(ctx, models.DatasetFilter{
		Kind:            models.DatasetKindResults,
		DatasetType:     string(k.Upstream),
		LibraryID:       rc.Library.ID,
		ReferenceGenome: rc.ReferenceGenome,
		Aligner:         rc.Aligner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s results: %w", k.Upstream, err)
	}
	if len(results) == 0 {
		return nil, lib.ErrRecordNotFound(string(k.Upstream)+" results", rc.Library.ID)
	}
	return results, nil
}

// Manifest builds the run manifest from the found inputs
func (k Kind) Manifest(rc RunContext, datasets []models.Dataset, results []models.Dataset) Manifest {
	return Manifest{
		Analysis:        rc.Record.Name,
		Type:            k.Type,
		LibraryID:       rc.Library.ID,
		ReferenceGenome: rc.ReferenceGenome,
		Aligner:         rc.Aligner,
		Storage:         rc.WorkingStorage,
		Datasets:        manifestDatasets(datasets),
		Results:         manifestDatasets(results),
	}
}

// OutputDatasets builds the sequence datasets the run produced, if the kind produces any
func (k Kind) OutputDatasets(rc RunContext, meta ResultsMetadata) []models.Dataset {
	if k.OutputType == "" {
		return nil
	}
	files := k.resultFiles(rc, meta, true)
	if len(files) == 0 {
		return nil
	}
	return []models.Dataset{{
		Name:            fmt.Sprintf("%s_%s", rc.Record.Name, strings.ToLower(k.OutputType)),
		Kind:            models.DatasetKindSequence,
		DatasetType:     k.OutputType,
		LibraryID:       rc.Library.ID,
		Lanes:           rc.Lanes,
		ReferenceGenome: rc.ReferenceGenome,
		Aligner:         rc.Aligner,
		AnalysisID:      rc.Record.ID,
		Files:           files,
		Storages:        []string{rc.WorkingStorage},
	}}
}

// OutputResults builds the results dataset of the run
func (k Kind) OutputResults(rc RunContext, meta ResultsMetadata) models.Dataset {
	return models.Dataset{
		Name:            rc.Record.Name,
		Kind:            models.DatasetKindResults,
		DatasetType:     string(k.Type),
		LibraryID:       rc.Library.ID,
		Lanes:           rc.Lanes,
		ReferenceGenome: rc.ReferenceGenome,
		Aligner:         rc.Aligner,
		AnalysisID:      rc.Record.ID,
		Files:           k.resultFiles(rc, meta, false),
		Storages:        []string{rc.WorkingStorage},
	}
}

// resultFiles splits the reported files between the produced sequence dataset
// and the results dataset
func (k Kind) resultFiles(rc RunContext, meta ResultsMetadata, sequence bool) []string {
	var files []string
	for _, f := range meta.Filenames {
		matched := k.OutputMatch != nil && k.OutputMatch(f)
		if matched == sequence {
			files = append(files, path.Join(rc.ResultsDir, f))
		}
	}
	sort.Strings(files)
	return files
}

// uncoveredLanes returns the lanes no dataset covers
func uncoveredLanes(datasets []models.Dataset, lanes []string) []string {
	covered := make(map[string]bool)
	for _, ds := range datasets {
		for _, lane := range ds.Lanes {
			covered[lane] = true
		}
	}
	var missing []string
	for _, lane := range lanes {
		if !covered[lane] {
			missing = append(missing, lane)
		}
	}
	return missing
}
