package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
)

// Fingerprint widths tried in order when a shorter name is taken by another lane set
var fingerprintWidths = []int{models.DefaultFingerprintWidth, 16, 32}

// AnalysisRequest identifies an analysis by pipeline variant and input set
type AnalysisRequest struct {
	Type        models.AnalysisType
	AlignerCode string
	Library     models.Library
	Lanes       []string
	JiraTicket  string // Existing analysis ticket; a subtask is created when empty
	Version     string
}

// RegistryResult is the record an analysis request resolved to
type RegistryResult struct {
	Record          models.AnalysisRecord
	Existed         bool
	Aligner         string
	ReferenceGenome string
}

// Registry resolves analysis requests to catalog records, creating the ticket
// and the record the first time an input set is seen
type Registry struct {
	catalog          Catalog
	tickets          Ticketing
	logger           *lib.Logger
	metrics          *metrics.Recorder
	fingerprintWidth int
}

// NewRegistry creates a registry. A fingerprint width below 8 selects the default
func NewRegistry(catalog Catalog, tickets Ticketing, fingerprintWidth int, logger *lib.Logger, recorder *metrics.Recorder) *Registry {
	if fingerprintWidth < models.DefaultFingerprintWidth {
		fingerprintWidth = models.DefaultFingerprintWidth
	}
	return &Registry{
		catalog:          catalog,
		tickets:          tickets,
		logger:           logger,
		metrics:          recorder,
		fingerprintWidth: fingerprintWidth,
	}
}

// resolvedRequest is an AnalysisRequest after its configuration was checked
type resolvedRequest struct {
	AnalysisRequest
	aligner   string
	reference string
	lanes     []string
}

// resolve checks the request configuration without touching any collaborator
func resolve(req AnalysisRequest) (resolvedRequest, error) {
	if !models.IsValidAnalysisType(req.Type) {
		return resolvedRequest{}, lib.ErrUnknownAnalysisType(string(req.Type))
	}
	aligner, ok := models.ResolveAligner(req.AlignerCode)
	if !ok {
		return resolvedRequest{}, lib.ErrUnknownAligner(req.AlignerCode)
	}
	reference, ok := models.ReferenceGenomeForTaxonomy(req.Library.TaxonomyID)
	if !ok {
		return resolvedRequest{}, lib.ErrUnknownTaxonomy(req.Library.ID, req.Library.TaxonomyID)
	}
	if req.JiraTicket != "" && !models.IsValidJiraTicket(req.JiraTicket) {
		return resolvedRequest{}, lib.ErrInvalidJiraTicket(req.JiraTicket)
	}
	if req.JiraTicket == "" && !models.IsValidJiraTicket(req.Library.JiraTicket) {
		return resolvedRequest{}, lib.ErrInvalidJiraTicket(req.Library.JiraTicket)
	}
	lanes := lib.CanonicalInputSet(req.Lanes)
	if len(lanes) == 0 {
		return resolvedRequest{}, lib.ErrInvalidConfig("lanes", fmt.Sprintf("library %s has no input lanes", req.Library.ID))
	}
	return resolvedRequest{AnalysisRequest: req, aligner: aligner, reference: reference, lanes: lanes}, nil
}

// GetOrCreate returns the analysis for the request, creating its ticket and record
// when no analysis with the computed name exists. Losing a creation race is not an
// error: the winner's record is returned with Existed set
func (r *Registry) GetOrCreate(ctx context.Context, req AnalysisRequest) (*RegistryResult, error) {
	resolved, err := resolve(req)
	if err != nil {
		return nil, err
	}

	for _, width := range r.widths() {
		name := models.AnalysisName(req.Type, resolved.aligner, resolved.reference, req.Library.ID,
			lib.FingerprintWidth(resolved.lanes, width))

		lookup, err := r.catalog.GetAnalysis(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up analysis %s: %w", name, err)
		}
		existing, found := lookup.Get()
		if !found {
			return r.create(ctx, resolved, name)
		}
		if existing.SameInputs(resolved.lanes) {
			r.metrics.ObserveRegistry(string(req.Type), "existing")
			r.logger.Debug("Analysis already exists", "analysis", name, "status", existing.Status)
			return r.result(existing, true, resolved), nil
		}

		r.logger.Warn("Fingerprint collision, widening analysis name",
			"analysis", name,
			"width", width,
			"stored_lanes", existing.InputLanes,
			"requested_lanes", resolved.lanes,
		)
	}

	return nil, lib.ErrDuplicateRecord("analysis", fmt.Sprintf("%s lanes %v", req.Library.ID, resolved.lanes),
		errors.New("every fingerprint width is taken by a different lane set"))
}

func (r *Registry) widths() []int {
	widths := []int{r.fingerprintWidth}
	for _, w := range fingerprintWidths {
		if w > r.fingerprintWidth {
			widths = append(widths, w)
		}
	}
	return widths
}

func (r *Registry) result(rec models.AnalysisRecord, existed bool, resolved resolvedRequest) *RegistryResult {
	return &RegistryResult{
		Record:          rec,
		Existed:         existed,
		Aligner:         resolved.aligner,
		ReferenceGenome: resolved.reference,
	}
}

func (r *Registry) create(ctx context.Context, resolved resolvedRequest, name string) (*RegistryResult, error) {
	ticket := resolved.JiraTicket
	if ticket == "" {
		title := fmt.Sprintf("%s %s analysis of %s (%s)", resolved.Type, resolved.aligner, resolved.Library.ID, resolved.reference)
		created, err := r.tickets.CreateSubtask(ctx, resolved.Library.JiraTicket, title)
		if err != nil {
			return nil, fmt.Errorf("failed to create ticket for %s: %w", name, err)
		}
		ticket = created
	}

	rec, err := r.catalog.CreateAnalysis(ctx, models.AnalysisRecord{
		Name:       name,
		Type:       resolved.Type,
		Status:     models.AnalysisStatusIdle,
		JiraTicket: ticket,
		LibraryID:  resolved.Library.ID,
		Version:    resolved.Version,
		InputLanes: resolved.lanes,
	})
	if err == nil {
		r.metrics.ObserveRegistry(string(resolved.Type), "created")
		lib.LogAnalysisCreated(r.logger, name, ticket)
		return r.result(rec, false, resolved), nil
	}
	if !errors.Is(err, lib.ErrConflict) {
		return nil, fmt.Errorf("failed to create analysis %s: %w", name, err)
	}

	// A concurrent request created the record first
	lookup, lookupErr := r.catalog.GetAnalysis(ctx, name)
	if lookupErr != nil {
		return nil, fmt.Errorf("failed to re-fetch analysis %s: %w", name, lookupErr)
	}
	winner, found := lookup.Get()
	if !found {
		return nil, fmt.Errorf("analysis %s conflicted but is missing: %w", name, err)
	}
	r.metrics.ObserveRegistry(string(resolved.Type), "lost_race")
	r.logger.Info("Analysis created concurrently, using existing record", "analysis", name, "jira_ticket", winner.JiraTicket)

	if resolved.JiraTicket == "" && ticket != winner.JiraTicket {
		r.markDuplicateTicket(ctx, ticket, winner)
	}
	return r.result(winner, true, resolved), nil
}

// markDuplicateTicket labels a ticket created by a request that lost the creation race.
// Failures are logged only; the analysis itself is already resolved
func (r *Registry) markDuplicateTicket(ctx context.Context, ticket string, winner models.AnalysisRecord) {
	if err := r.tickets.UpdateTicket(ctx, ticket, map[string]any{"labels": []string{"duplicate"}}); err != nil {
		r.logger.Warn("Failed to label duplicate ticket", "jira_ticket", ticket, "error", err)
		return
	}
	comment := fmt.Sprintf("Duplicate of %s: analysis %s was created by a concurrent request.", winner.JiraTicket, winner.Name)
	if err := r.tickets.AddComment(ctx, ticket, comment); err != nil {
		r.logger.Warn("Failed to comment on duplicate ticket", "jira_ticket", ticket, "error", err)
	}
}
