package pipeline

import (
	"context"
	"fmt"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// Readiness is the outcome of the readiness gate for one library.
// A library that is not ready is skipped for this cycle; that is not an error
type Readiness struct {
	Ready   bool
	Reason  string
	Library *models.Library
	Lanes   []string // Sorted lane labels, set only when ready
}

// Evaluate applies the readiness rules to a library
// Pure function
func Evaluate(library models.Library) Readiness {
	r := Readiness{Library: &library}

	if library.ExcludeFromAnalysis {
		r.Reason = "library is excluded from analysis"
		return r
	}
	if len(library.Sequencings) == 0 {
		r.Reason = "library has no sequencings"
		return r
	}

	var lanes []string
	for _, s := range library.Sequencings {
		if s.LanesRequested != 0 && len(s.Lanes) != s.LanesRequested {
			r.Reason = fmt.Sprintf("sequencing %d has %d of %d requested lanes", s.ID, len(s.Lanes), s.LanesRequested)
			return r
		}
		for _, lane := range s.Lanes {
			lanes = append(lanes, lane.LaneLabel())
		}
	}

	r.Ready = true
	r.Lanes = lib.CanonicalInputSet(lanes)
	return r
}

// CheckReadiness loads a library from the lab catalog and evaluates it.
// An unknown library is an error; an incomplete one is a not-ready result
func CheckReadiness(ctx context.Context, lab LabCatalog, libraryID string, logger *lib.Logger) (Readiness, error) {
	lookup, err := lab.GetLibrary(ctx, libraryID)
	if err != nil {
		return Readiness{}, fmt.Errorf("failed to load library %s: %w", libraryID, err)
	}
	library, ok := lookup.Get()
	if !ok {
		return Readiness{}, lib.ErrRecordNotFound("library", libraryID)
	}

	r := Evaluate(library)
	if !r.Ready {
		logger.Info("Library not ready for analysis", "library", libraryID, "reason", r.Reason)
	}
	return r, nil
}
