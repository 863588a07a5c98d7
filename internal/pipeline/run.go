package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
)

// Time allowed to persist the error status of a cancelled run
const markErrorTimeout = 30 * time.Second

// CancelledReason is the error message stored on an analysis whose run was cancelled
const CancelledReason = "cancelled"

// RunRequest selects what to run
type RunRequest struct {
	Type            models.AnalysisType
	LibraryID       string
	AlignerCode     string
	JiraTicket      string // Existing analysis ticket; created on first run when empty
	Tag             string // Suffix of the job subdirectory
	InputsYAML      string // Use this manifest instead of generating one
	Clean           bool   // Wipe the pipeline directory first
	IntegrationTest bool
}

// RunResult describes how a run ended
type RunResult struct {
	Analysis         models.AnalysisRecord
	Readiness        Readiness
	Skipped          bool
	Reason           string
	RunID            string
	PipelineDir      string
	InputDatasetIDs  []int64
	InputResultsIDs  []int64
	OutputDatasetIDs []int64
	OutputResultsIDs []int64
	Steps            []models.StepRecord
}

// Dependencies are the collaborators of a Runner
type Dependencies struct {
	Catalog  Catalog
	Lab      LabCatalog
	Tickets  Ticketing
	Storage  Storage
	Files    FileReader
	Launcher Launcher
}

// Runner drives one analysis through the ordered run steps
type Runner struct {
	deps      Dependencies
	registry  *Registry
	transfers *Transferer
	storages  models.StorageConfig
	version   string
	locksDir  string
	logger    *lib.Logger
	metrics   *metrics.Recorder
}

// NewRunner creates a runner from the project configuration
func NewRunner(deps Dependencies, config *models.ProjectConfig, logger *lib.Logger, recorder *metrics.Recorder) *Runner {
	return &Runner{
		deps:      deps,
		registry:  NewRegistry(deps.Catalog, deps.Tickets, config.Analysis.FingerprintWidth, logger, recorder),
		transfers: NewTransferer(deps.Catalog, deps.Storage, logger, recorder),
		storages:  config.Storages,
		version:   config.Pipeline.Version,
		locksDir:  config.LocksDir,
		logger:    logger,
		metrics:   recorder,
	}
}

// runStep is one named stage of a run
type runStep struct {
	name models.RunStep
	fn   func(ctx context.Context) error
}

// run holds the state threaded through the steps of one run
type run struct {
	req      RunRequest
	kind     Kind
	rc       RunContext
	state    *StateMachine
	sentinel *Sentinel
	result   *RunResult

	pipelineDir   string
	scpipelineDir string
	tmpDir        string
	inputsYAML    string

	datasets []models.Dataset
	results  []models.Dataset

	running  bool
	complete bool
}

// Run resolves the analysis for the request and executes every run step in order.
// A library that is not ready and an analysis that is already complete are skipped
// without error. Once the analysis is running, any failure or cancellation leaves it
// in error before the failure is returned
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	kind, err := KindFor(req.Type)
	if err != nil {
		return nil, err
	}
	if req.JiraTicket != "" && !models.IsValidJiraTicket(req.JiraTicket) {
		return nil, lib.ErrInvalidJiraTicket(req.JiraTicket)
	}
	if _, ok := models.ResolveAligner(req.AlignerCode); !ok {
		return nil, lib.ErrUnknownAligner(req.AlignerCode)
	}
	local, err := r.serverStorage(r.storages.LocalResults)
	if err != nil {
		return nil, err
	}

	readiness, err := CheckReadiness(ctx, r.deps.Lab, req.LibraryID, r.logger)
	if err != nil {
		return nil, err
	}
	result := &RunResult{Readiness: readiness}
	if !readiness.Ready {
		result.Skipped = true
		result.Reason = readiness.Reason
		return result, nil
	}

	resolved, err := r.registry.GetOrCreate(ctx, AnalysisRequest{
		Type:        req.Type,
		AlignerCode: req.AlignerCode,
		Library:     *readiness.Library,
		Lanes:       readiness.Lanes,
		JiraTicket:  req.JiraTicket,
		Version:     r.version,
	})
	if err != nil {
		return nil, err
	}
	rec := resolved.Record
	result.Analysis = rec
	if ok, err := r.admit(rec, result); !ok {
		return skipped(result, err)
	}

	// Repeated on every run so a mirror that failed during discovery is repaired
	if err := mirrorAnalysis(ctx, r.deps.Lab, rec, *readiness.Library, resolved.Aligner, r.version, r.logger); err != nil {
		return nil, err
	}

	if r.locksDir != "" {
		lock, err := services.AcquireRunLock(r.locksDir, rec.Name, r.logger)
		if err != nil {
			return nil, err
		}
		defer func() { _ = lock.Release() }()
	}

	// Another process may have moved the analysis on before the lock was held
	state := NewStateMachine(r.deps.Catalog, rec, r.logger, r.metrics)
	rec, err = state.Current(ctx)
	if err != nil {
		return nil, err
	}
	result.Analysis = rec
	if ok, err := r.admit(rec, result); !ok {
		return skipped(result, err)
	}

	jobSubdir := rec.JiraTicket + req.Tag
	pipelineDir := filepath.Join(local.Directory, jobSubdir)
	if req.Clean {
		r.logger.Info("Cleaning pipeline directory", "dir", pipelineDir)
		if err := os.RemoveAll(pipelineDir); err != nil {
			return nil, fmt.Errorf("failed to clean pipeline directory: %w", err)
		}
	}

	journal, err := services.NewJournal(pipelineDir, jobSubdir, rec.Name, rec.JiraTicket)
	if err != nil {
		return nil, err
	}

	result.RunID = jobSubdir
	result.PipelineDir = pipelineDir
	st := &run{
		req:  req,
		kind: kind,
		rc: RunContext{
			Record:          rec,
			Library:         *readiness.Library,
			Aligner:         resolved.Aligner,
			ReferenceGenome: resolved.ReferenceGenome,
			Lanes:           readiness.Lanes,
			ResultsDir:      path.Join("singlecelldata", "results", jobSubdir, "results"),
			WorkingStorage:  r.storages.WorkingInputs,
		},
		state:         state,
		sentinel:      NewSentinel(jobSubdir, journal, r.logger, r.metrics),
		result:        result,
		pipelineDir:   pipelineDir,
		scpipelineDir: path.Join("singlecelldata", "pipeline", jobSubdir),
		tmpDir:        path.Join("singlecelldata", "temp", jobSubdir),
	}

	start := time.Now()
	r.logger.Info("Starting run", "analysis", rec.Name, "jira_ticket", rec.JiraTicket, "library", req.LibraryID, "run_id", jobSubdir)

	runErr := r.runSteps(ctx, st, journal)
	result.Steps = journal.Steps()

	final := models.AnalysisStatusComplete
	if runErr != nil {
		final = r.fail(ctx, st, runErr)
	}
	if err := journal.Seal(final); err != nil {
		r.logger.Warn("Failed to seal run journal", "error", err)
	}
	r.metrics.ObserveRunFinished(string(req.Type), string(final), time.Now())

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, lib.ErrCancelled) {
			return result, lib.ErrRunCancelled(rec.Name, runErr)
		}
		return result, runErr
	}

	if current, err := st.state.Current(ctx); err == nil {
		result.Analysis = current
	}
	lib.LogRunCompleted(r.logger, rec.Name, time.Since(start))
	return result, nil
}

// admit reports whether an analysis in the stored status may be run. A complete
// analysis is skipped; any status other than idle is a conflict
func (r *Runner) admit(rec models.AnalysisRecord, result *RunResult) (bool, error) {
	switch rec.Status {
	case models.AnalysisStatusIdle:
		return true, nil
	case models.AnalysisStatusComplete:
		r.logger.Info("Analysis already complete", "analysis", rec.Name, "jira_ticket", rec.JiraTicket)
		result.Skipped = true
		result.Reason = "analysis is already complete"
		return false, nil
	default:
		return false, lib.ErrStaleTransition(rec.Name, string(models.AnalysisStatusIdle), string(models.AnalysisStatusRunning), string(rec.Status))
	}
}

func skipped(result *RunResult, err error) (*RunResult, error) {
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runSteps executes the steps. A panic in a step still leaves a running analysis
// in error and the journal sealed before it carries on up the stack
func (r *Runner) runSteps(ctx context.Context, st *run, journal *services.Journal) error {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		final := r.fail(ctx, st, fmt.Errorf("panic: %v", p))
		if err := journal.Seal(final); err != nil {
			r.logger.Warn("Failed to seal run journal", "error", err)
		}
		r.metrics.ObserveRunFinished(string(st.req.Type), string(final), time.Now())
		panic(p)
	}()
	return r.execute(ctx, st, journal)
}

// execute runs the steps in order, checking each step's prerequisites against the journal
func (r *Runner) execute(ctx context.Context, st *run, journal *services.Journal) error {
	for _, step := range r.steps(st) {
		if ok, missing := lib.CanRunStep(journal.Steps(), step.name); !ok {
			return fmt.Errorf("step %s requires %s to succeed first", step.name, missing)
		}
		if err := st.sentinel.Run(ctx, string(step.name), step.fn); err != nil {
			return err
		}
	}
	return nil
}

// fail moves a running analysis to error. Failures before the analysis left idle
// leave it idle, since the pipeline was never attempted
func (r *Runner) fail(ctx context.Context, st *run, runErr error) models.AnalysisStatus {
	if !st.running {
		r.logger.Info("Run failed before the pipeline started, analysis stays idle",
			"analysis", st.rc.Record.Name, "error", runErr)
		return models.AnalysisStatusIdle
	}
	if st.complete {
		return models.AnalysisStatusComplete
	}

	reason := runErr.Error()
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, lib.ErrCancelled) {
		reason = CancelledReason
	}

	// The run context may be the reason we are here
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markErrorTimeout)
	defer cancel()
	if _, err := st.state.MarkError(markCtx, reason); err != nil {
		r.logger.Error("Failed to mark analysis error", "analysis", st.rc.Record.Name, "error", err)
	}
	if err := r.deps.Lab.UpdateAnalysisInformationStatus(markCtx, st.rc.Record.JiraTicket, models.AnalysisStatusError); err != nil {
		r.logger.Warn("Failed to update analysis information", "jira_ticket", st.rc.Record.JiraTicket, "error", err)
	}
	return models.AnalysisStatusError
}

// steps declares the run in execution order
func (r *Runner) steps(st *run) []runStep {
	return []runStep{
		{models.StepSearchInputDatasets, func(ctx context.Context) error {
			datasets, err := st.kind.SearchInputDatasets(ctx, r.deps.Catalog, st.rc)
			st.datasets = datasets
			st.result.InputDatasetIDs = datasetIDs(datasets)
			return err
		}},
		{models.StepSearchInputResults, func(ctx context.Context) error {
			results, err := st.kind.SearchInputResults(ctx, r.deps.Catalog, st.rc)
			st.results = results
			st.result.InputResultsIDs = datasetIDs(results)
			return err
		}},
		{models.StepTransferInputs, func(ctx context.Context) error {
			return r.transfers.Transfer(ctx, st.sentinel, TransferRequest{
				RunID:      st.sentinel.RunID(),
				DatasetIDs: st.result.InputDatasetIDs,
				ResultsIDs: st.result.InputResultsIDs,
				From:       r.storages.RemoteInputs,
				To:         r.storages.WorkingInputs,
			})
		}},
		{models.StepGenerateManifest, func(ctx context.Context) error {
			return r.prepareManifest(ctx, st)
		}},
		{models.StepMarkRunning, func(ctx context.Context) error {
			if _, err := st.state.MarkRunning(ctx, services.LogFile(r.invocation(st)), r.version); err != nil {
				return err
			}
			st.running = true
			return nil
		}},
		{models.StepRunPipeline, func(ctx context.Context) error {
			return r.deps.Launcher.Launch(ctx, r.invocation(st))
		}},
		{models.StepCreateOutputs, func(ctx context.Context) error {
			ids, err := r.createOutputs(ctx, st, false)
			st.result.OutputDatasetIDs = ids
			return err
		}},
		{models.StepCreateOutputResults, func(ctx context.Context) error {
			ids, err := r.createOutputs(ctx, st, true)
			st.result.OutputResultsIDs = ids
			return err
		}},
		{models.StepMarkComplete, func(ctx context.Context) error {
			rec, err := st.state.MarkComplete(ctx)
			if err != nil {
				return err
			}
			st.complete = true
			st.result.Analysis = rec
			return nil
		}},
		{models.StepTransferOutputs, func(ctx context.Context) error {
			// Gated on the sequence outputs; results only travel alongside them
			if len(st.result.OutputDatasetIDs) == 0 {
				r.logger.Info("No new output datasets, skipping outbound transfer", "analysis", st.rc.Record.Name)
				return nil
			}
			return r.transfers.Transfer(ctx, st.sentinel, TransferRequest{
				RunID:      st.sentinel.RunID(),
				DatasetIDs: st.result.OutputDatasetIDs,
				ResultsIDs: st.result.OutputResultsIDs,
				From:       r.storages.WorkingInputs,
				To:         r.storages.RemoteInputs,
			})
		}},
		{models.StepFinalize, func(ctx context.Context) error {
			return r.finalize(ctx, st)
		}},
	}
}

// prepareManifest writes the generated manifest, or checks the supplied one
func (r *Runner) prepareManifest(ctx context.Context, st *run) error {
	if st.req.InputsYAML != "" {
		if _, err := ReadManifest(st.req.InputsYAML); err != nil {
			return err
		}
		st.inputsYAML = st.req.InputsYAML
	} else {
		st.inputsYAML = filepath.Join(st.pipelineDir, ManifestFileName)
		manifest := st.kind.Manifest(st.rc, st.datasets, st.results)
		if err := WriteManifest(st.inputsYAML, manifest); err != nil {
			return err
		}
		r.logger.Info("Wrote run manifest", "path", st.inputsYAML, "datasets", len(manifest.Datasets), "results", len(manifest.Results))
	}

	ids := append(append([]int64{}, st.result.InputDatasetIDs...), st.result.InputResultsIDs...)
	_, err := st.state.RecordInputs(ctx, ids)
	return err
}

func (r *Runner) invocation(st *run) services.PipelineInvocation {
	libraryID := st.rc.Library.ID
	if st.req.IntegrationTest {
		libraryID += "TEST"
	}
	return services.PipelineInvocation{
		AnalysisType:    st.kind.Type,
		AnalysisName:    st.rc.Record.Name,
		LibraryID:       libraryID,
		Aligner:         st.rc.Aligner,
		ReferenceGenome: st.rc.ReferenceGenome,
		InputsYAML:      st.inputsYAML,
		PipelineDir:     st.pipelineDir,
		ResultsDir:      r.workingPath(st.rc.ResultsDir),
		ScpipelineDir:   r.workingPath(st.scpipelineDir),
		TmpDir:          r.workingPath(st.tmpDir),
		Mounts:          r.mounts(st.pipelineDir),
	}
}

// createOutputs registers what the pipeline produced. A dataset that already
// exists from an earlier attempt is looked up instead of created again
func (r *Runner) createOutputs(ctx context.Context, st *run, results bool) ([]int64, error) {
	data, err := r.deps.Files.ReadFile(ctx, r.storages.WorkingInputs, path.Join(st.rc.ResultsDir, MetadataFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read results metadata: %w", err)
	}
	meta, err := ParseResultsMetadata(data)
	if err != nil {
		return nil, err
	}

	var datasets []models.Dataset
	if results {
		datasets = []models.Dataset{st.kind.OutputResults(st.rc, meta)}
	} else {
		datasets = st.kind.OutputDatasets(st.rc, meta)
	}

	var ids []int64
	for _, ds := range datasets {
		created, err := r.deps.Catalog.CreateDataset(ctx, ds)
		if errors.Is(err, lib.ErrConflict) {
			created, err = r.existingDataset(ctx, ds)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create dataset %s: %w", ds.Name, err)
		}
		r.logger.Info("Created output dataset", "dataset", created.Name, "id", created.ID, "files", len(created.Files))
		ids = append(ids, created.ID)
	}
	return ids, nil
}

func (r *Runner) existingDataset(ctx context.Context, ds models.Dataset) (models.Dataset, error) {
	found, err := r.deps.Catalog.ListDatasets(ctx, models.DatasetFilter{
		Kind:        ds.Kind,
		DatasetType: ds.DatasetType,
		LibraryID:   ds.LibraryID,
		AnalysisID:  ds.AnalysisID,
	})
	if err != nil {
		return models.Dataset{}, err
	}
	for _, existing := range found {
		if existing.Name == ds.Name {
			return existing, nil
		}
	}
	return models.Dataset{}, lib.ErrRecordNotFound("dataset", ds.Name)
}

// finalize reports the finished analysis to the lab catalog and its ticket
func (r *Runner) finalize(ctx context.Context, st *run) error {
	rec := st.rc.Record
	if err := r.deps.Lab.UpdateAnalysisInformationStatus(ctx, rec.JiraTicket, models.AnalysisStatusComplete); err != nil {
		if !errors.Is(err, lib.ErrNotFound) {
			return err
		}
		r.logger.Debug("No analysis information to update", "jira_ticket", rec.JiraTicket)
	}
	comment := fmt.Sprintf("Finished %s analysis %s with aligner %s", st.kind.Type, rec.Name, st.rc.Aligner)
	return r.deps.Tickets.AddComment(ctx, rec.JiraTicket, comment)
}

// serverStorage resolves a storage that must live on a local filesystem
func (r *Runner) serverStorage(name string) (models.Storage, error) {
	s, ok := r.storages.Lookup(name)
	if !ok {
		return models.Storage{}, lib.ErrUnknownStorage(name)
	}
	if s.Kind != models.StorageKindServer {
		return models.Storage{}, lib.ErrInvalidConfig("storages.local_results",
			fmt.Sprintf("storage %s must be a server storage", name))
	}
	return s, nil
}

// workingPath turns a path relative to the working storage into one the pipeline can open
func (r *Runner) workingPath(rel string) string {
	s, ok := r.storages.Lookup(r.storages.WorkingInputs)
	if !ok || s.Kind != models.StorageKindServer {
		return rel
	}
	return filepath.Join(s.Directory, filepath.FromSlash(rel))
}

// mounts lists the directories the pipeline container must see: the pipeline
// directory and the root of every server storage
func (r *Runner) mounts(pipelineDir string) []string {
	dirs := []string{pipelineDir}
	for _, s := range r.storages.Definitions {
		if s.Kind == models.StorageKindServer {
			dirs = append(dirs, s.Directory)
		}
	}
	return dirs
}

func datasetIDs(datasets []models.Dataset) []int64 {
	ids := make([]int64, 0, len(datasets))
	for _, ds := range datasets {
		ids = append(ids, ds.ID)
	}
	return ids
}
