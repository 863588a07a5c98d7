package pipeline

import (
	"context"
	"errors"
	"sort"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
)

// DiscoveryRequest selects which analyses to look for
type DiscoveryRequest struct {
	Types       []models.AnalysisType
	AlignerCode string
	LibraryIDs  []string // Restrict to these libraries; all libraries when empty
}

// DiscoveredAnalysis is one analysis found or created by discovery
type DiscoveredAnalysis struct {
	Type       models.AnalysisType
	LibraryID  string
	Name       string
	JiraTicket string
	Created    bool
}

// DiscoverySummary is the outcome of one discovery pass
type DiscoverySummary struct {
	Analyses []DiscoveredAnalysis
	NotReady map[string]string // Library id -> reason
	Failed   map[string]error  // Library id -> error
}

// Tickets groups the discovered analysis tickets by analysis type
func (s *DiscoverySummary) Tickets() map[models.AnalysisType][]string {
	out := make(map[models.AnalysisType][]string)
	for _, a := range s.Analyses {
		out[a.Type] = append(out[a.Type], a.JiraTicket)
	}
	return out
}

// Discoverer finds libraries whose data is complete and registers the analyses
// they need. One failing library never stops the pass
type Discoverer struct {
	catalog  Catalog
	lab      LabCatalog
	registry *Registry
	version  string
	logger   *lib.Logger
}

// NewDiscoverer creates a discoverer from the project configuration
func NewDiscoverer(deps Dependencies, config *models.ProjectConfig, logger *lib.Logger, recorder *metrics.Recorder) *Discoverer {
	return &Discoverer{
		catalog:  deps.Catalog,
		lab:      deps.Lab,
		registry: NewRegistry(deps.Catalog, deps.Tickets, config.Analysis.FingerprintWidth, logger, recorder),
		version:  config.Pipeline.Version,
		logger:   logger,
	}
}

// Discover runs the readiness gate and the registry for every candidate library.
// Only a cancelled context or an unusable request aborts the pass
func (d *Discoverer) Discover(ctx context.Context, req DiscoveryRequest) (*DiscoverySummary, error) {
	aligner, ok := models.ResolveAligner(req.AlignerCode)
	if !ok {
		return nil, lib.ErrUnknownAligner(req.AlignerCode)
	}
	for _, t := range req.Types {
		if !models.IsValidAnalysisType(t) {
			return nil, lib.ErrUnknownAnalysisType(string(t))
		}
	}

	libraries, err := d.candidates(ctx, req.LibraryIDs)
	if err != nil {
		return nil, err
	}

	summary := &DiscoverySummary{
		NotReady: make(map[string]string),
		Failed:   make(map[string]error),
	}
	for _, library := range libraries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		readiness := Evaluate(library)
		if !readiness.Ready {
			d.logger.Info("Library not ready for analysis", "library", library.ID, "reason", readiness.Reason)
			summary.NotReady[library.ID] = readiness.Reason
			continue
		}

		for _, t := range req.Types {
			found, err := d.discoverOne(ctx, t, req.AlignerCode, aligner, readiness)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return summary, err
				}
				d.logger.Error("Discovery failed for library", "library", library.ID, "analysis_type", t, "error", err)
				summary.Failed[library.ID] = err
				break
			}
			if found != nil {
				summary.Analyses = append(summary.Analyses, *found)
			}
		}
	}

	d.logger.Info("Discovery finished",
		"analyses", len(summary.Analyses),
		"not_ready", len(summary.NotReady),
		"failed", len(summary.Failed),
	)
	return summary, nil
}

// candidates loads the libraries to consider, in library id order
func (d *Discoverer) candidates(ctx context.Context, ids []string) ([]models.Library, error) {
	if len(ids) == 0 {
		libraries, err := d.lab.ListLibraries(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(libraries, func(i, j int) bool { return libraries[i].ID < libraries[j].ID })
		return libraries, nil
	}

	libraries := make([]models.Library, 0, len(ids))
	for _, id := range ids {
		lookup, err := d.lab.GetLibrary(ctx, id)
		if err != nil {
			return nil, err
		}
		library, ok := lookup.Get()
		if !ok {
			return nil, lib.ErrRecordNotFound("library", id)
		}
		libraries = append(libraries, library)
	}
	return libraries, nil
}

// discoverOne registers the analysis of one type for a ready library.
// A library that already has a complete analysis over the same lanes is skipped
func (d *Discoverer) discoverOne(ctx context.Context, t models.AnalysisType, alignerCode, aligner string, readiness Readiness) (*DiscoveredAnalysis, error) {
	library := *readiness.Library

	done, err := d.catalog.ListAnalyses(ctx, models.AnalysisFilter{
		Type:      t,
		Status:    models.AnalysisStatusComplete,
		LibraryID: library.ID,
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range done {
		if rec.SameInputs(readiness.Lanes) && len(rec.InputLanes) > 0 {
			d.logger.Debug("Library already analysed", "library", library.ID, "analysis", rec.Name)
			return nil, nil
		}
	}

	result, err := d.registry.GetOrCreate(ctx, AnalysisRequest{
		Type:        t,
		AlignerCode: alignerCode,
		Library:     library,
		Lanes:       readiness.Lanes,
		Version:     d.version,
	})
	if err != nil {
		return nil, err
	}

	if !result.Existed {
		if err := mirrorAnalysis(ctx, d.lab, result.Record, library, aligner, d.version, d.logger); err != nil {
			return nil, err
		}
	}

	return &DiscoveredAnalysis{
		Type:       t,
		LibraryID:  library.ID,
		Name:       result.Record.Name,
		JiraTicket: result.Record.JiraTicket,
		Created:    !result.Existed,
	}, nil
}

// mirrorAnalysis creates the lab side analysis information of an analysis.
// A ticket the lab already knows is left as it is, so it is safe to repeat
func mirrorAnalysis(ctx context.Context, lab LabCatalog, rec models.AnalysisRecord, library models.Library, aligner, version string, logger *lib.Logger) error {
	reference, ok := models.LabReferenceGenomeForTaxonomy(library.TaxonomyID)
	if !ok {
		return lib.ErrUnknownTaxonomy(library.ID, library.TaxonomyID)
	}
	err := lab.CreateAnalysisInformation(ctx, models.AnalysisInformation{
		LibraryID:       library.ID,
		JiraTicket:      rec.JiraTicket,
		Version:         version,
		ReferenceGenome: reference,
		Aligner:         aligner,
		Priority:        "M",
		Smoothing:       "M",
		SequencingIDs:   library.SequencingIDs(),
		LaneIDs:         library.LaneIDs(),
		RunStatus:       string(models.AnalysisStatusIdle),
	})
	if errors.Is(err, lib.ErrConflict) {
		logger.Debug("Analysis information already exists", "jira_ticket", rec.JiraTicket)
		return nil
	}
	return err
}
