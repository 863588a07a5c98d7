package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/services"
	"github.com/trobanga/sisyphus/internal/ui"
)

var (
	discoverTypes   []string
	discoverAligner string
	discoverLibrary []string
	discoverRun     bool
	listType        string
	listStatus      string
	listLibrary     string
	statusTag       string
)

// analysisCmd represents the analysis command group
var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Inspect and manage analyses",
	Long: `Inspect and manage analyses in the metadata catalog.

Available subcommands:
  discover - Register analyses for every library whose data is complete
  list     - List analyses
  status   - Show an analysis and its last run journal
  reset    - Move an analysis in error back to idle`,
}

var analysisDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Register analyses for ready libraries",
	Long: `Check every library (or the given ones) and register the analyses of the
requested types for those whose sequencing is complete.

A library that is not ready or fails is reported and the pass continues.

Examples:
  sisyphus analysis discover --type align --type hmmcopy --aligner A
  sisyphus analysis discover --library A96213A --run`,
	RunE: runAnalysisDiscover,
}

var analysisListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyses",
	Long: `List analyses in the catalog, oldest first.

Examples:
  sisyphus analysis list
  sisyphus analysis list --status error --type hmmcopy`,
	RunE: runAnalysisList,
}

var analysisStatusCmd = &cobra.Command{
	Use:   "status <analysis-name>",
	Short: "Show an analysis and its run journal",
	Long: `Display an analysis record and the step journal of its last run.

For a failed run the failed step and the steps it depends on are shown.

Examples:
  sisyphus analysis status sc_align_A_HG19_A96213A_4c772dd8
  sisyphus analysis status sc_align_A_HG19_A96213A_4c772dd8 --tag _rerun`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalysisStatus,
}

var analysisResetCmd = &cobra.Command{
	Use:   "reset <analysis-name>",
	Short: "Move an analysis in error back to idle",
	Long: `Reset an analysis from error to idle so the next run picks it up.

Only analyses in error can be reset.

Example:
  sisyphus analysis reset sc_align_A_HG19_A96213A_4c772dd8`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalysisReset,
}

func init() {
	rootCmd.AddCommand(analysisCmd)
	analysisCmd.AddCommand(analysisDiscoverCmd)
	analysisCmd.AddCommand(analysisListCmd)
	analysisCmd.AddCommand(analysisStatusCmd)
	analysisCmd.AddCommand(analysisResetCmd)

	analysisDiscoverCmd.Flags().StringSliceVar(&discoverTypes, "type", []string{string(models.AnalysisTypeAlign)}, "analysis types to register")
	analysisDiscoverCmd.Flags().StringVar(&discoverAligner, "aligner", "A", "aligner code (A = bwa-aln, M = bwa-mem)")
	analysisDiscoverCmd.Flags().StringSliceVar(&discoverLibrary, "library", nil, "restrict to these libraries")
	analysisDiscoverCmd.Flags().BoolVar(&discoverRun, "run", false, "run every discovered analysis")

	analysisListCmd.Flags().StringVar(&listType, "type", "", "filter by analysis type")
	analysisListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	analysisListCmd.Flags().StringVar(&listLibrary, "library", "", "filter by library id")

	analysisStatusCmd.Flags().StringVar(&statusTag, "tag", "", "suffix of the job subdirectory used by the run")
}

func runAnalysisDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.requireJira(); err != nil {
		return err
	}
	if err := env.jiraClient().Ping(ctx); err != nil {
		return err
	}

	types := make([]models.AnalysisType, 0, len(discoverTypes))
	for _, t := range discoverTypes {
		types = append(types, models.AnalysisType(t))
	}

	deps := env.dependencies()
	summary, err := pipeline.NewDiscoverer(deps, env.config, env.logger, env.recorder).Discover(ctx, pipeline.DiscoveryRequest{
		Types:       types,
		AlignerCode: discoverAligner,
		LibraryIDs:  discoverLibrary,
	})
	if err != nil {
		return err
	}

	printDiscovery(summary)

	if !discoverRun {
		return nil
	}

	runner := pipeline.NewRunner(deps, env.config, env.logger, env.recorder)
	failed := 0
	for _, a := range summary.Analyses {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := runner.Run(ctx, pipeline.RunRequest{
			Type:        a.Type,
			LibraryID:   a.LibraryID,
			AlignerCode: discoverAligner,
			JiraTicket:  a.JiraTicket,
		})
		switch {
		case err != nil:
			failed++
			fmt.Printf("✗ %s: %s\n", a.Name, lib.ClassifyError(err).UserMessage())
		case result.Skipped:
			fmt.Printf("- %s: %s\n", a.Name, result.Reason)
		default:
			fmt.Printf("✓ %s\n", a.Name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(summary.Analyses))
	}
	return nil
}

func printDiscovery(summary *pipeline.DiscoverySummary) {
	rows := make([][]string, 0, len(summary.Analyses))
	for _, a := range summary.Analyses {
		created := ""
		if a.Created {
			created = "new"
		}
		rows = append(rows, []string{a.Name, string(a.Type), a.LibraryID, a.JiraTicket, created})
	}
	if len(rows) > 0 {
		fmt.Println(renderTable([]string{"ANALYSIS", "TYPE", "LIBRARY", "TICKET", ""}, rows, nil))
	}

	for _, id := range sortedKeys(summary.NotReady) {
		fmt.Printf("Not ready: %s (%s)\n", id, summary.NotReady[id])
	}
	for _, id := range sortedKeys(summary.Failed) {
		fmt.Printf("Failed:    %s (%s)\n", id, lib.ClassifyError(summary.Failed[id]).Message)
	}

	tickets := summary.Tickets()
	for _, t := range []models.AnalysisType{models.AnalysisTypeAlign, models.AnalysisTypeHmmcopy, models.AnalysisTypePseudobulk} {
		if len(tickets[t]) > 0 {
			fmt.Printf("%s tickets: %s\n", t, strings.Join(tickets[t], ", "))
		}
	}
	fmt.Printf("\nTotal: %d analyses, %d not ready, %d failed\n", len(summary.Analyses), len(summary.NotReady), len(summary.Failed))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runAnalysisList(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	analyses, err := env.catalog.ListAnalyses(cmd.Context(), models.AnalysisFilter{
		Type:      models.AnalysisType(listType),
		Status:    models.AnalysisStatus(listStatus),
		LibraryID: listLibrary,
	})
	if err != nil {
		return fmt.Errorf("failed to list analyses: %w", err)
	}

	if len(analyses) == 0 {
		fmt.Println("No analyses found")
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(analyses))
	for _, a := range analyses {
		rows = append(rows, []string{
			a.Name,
			a.JiraTicket,
			fmt.Sprintf("%s %s", statusSymbol(a.Status), a.Status),
			a.Version,
			ui.FormatAge(a.UpdatedAt, now),
		})
	}
	fmt.Println(renderTable([]string{"ANALYSIS", "TICKET", "STATUS", "VERSION", "UPDATED"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	fmt.Printf("\nTotal: %d analyses\n", len(analyses))
	return nil
}

func runAnalysisStatus(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	rec, err := getAnalysis(cmd, env, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Analysis: %s\n", rec.Name)
	fmt.Printf("Type:     %s\n", rec.Type)
	fmt.Printf("Library:  %s\n", rec.LibraryID)
	fmt.Printf("Ticket:   %s\n", rec.JiraTicket)
	fmt.Printf("Status:   %s %s\n", statusSymbol(rec.Status), rec.Status)
	if rec.Version != "" {
		fmt.Printf("Version:  %s\n", rec.Version)
	}
	if rec.LogFile != "" {
		fmt.Printf("Log:      %s\n", rec.LogFile)
	}
	if rec.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", rec.ErrorMessage)
	}
	if rec.Duration > 0 {
		fmt.Printf("Duration: %s\n", ui.FormatDuration(rec.Duration))
	}
	if env.config.LocksDir != "" && services.IsRunLocked(env.config.LocksDir, rec.Name) {
		fmt.Println("Locked:   a run is in progress")
	}

	local, ok := env.config.Storages.Lookup(env.config.Storages.LocalResults)
	if !ok {
		return lib.ErrUnknownStorage(env.config.Storages.LocalResults)
	}
	journal, err := services.LoadJournal(filepath.Join(local.Directory, rec.JiraTicket+statusTag))
	if err != nil {
		fmt.Printf("\n%s\n", err)
		return nil
	}

	fmt.Printf("\nRun %s (started %s", journal.RunID, journal.StartedAt.Format(time.RFC3339))
	if journal.Outcome != "" {
		fmt.Printf(", %s", journal.Outcome)
	}
	fmt.Println(")")

	rows := make([][]string, 0, len(journal.Steps))
	for _, s := range journal.Steps {
		duration := ""
		if s.IsSealed() {
			duration = ui.FormatDuration(s.Duration())
		}
		rows = append(rows, []string{s.Name, string(s.Outcome), duration, s.Error})
	}
	fmt.Println(renderTable([]string{"STEP", "OUTCOME", "DURATION", "ERROR"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))

	if failed, ok := models.LastFailedStep(journal.Steps); ok {
		fmt.Printf("\nFailed step: %s\n", failed.Name)
		if deps := lib.GetStepDependencies(models.RunStep(failed.Name)); len(deps) > 0 {
			names := make([]string, len(deps))
			for i, d := range deps {
				names[i] = string(d)
			}
			fmt.Printf("  Depends on: %s\n", strings.Join(names, ", "))
		}
		if rec.Status == models.AnalysisStatusError {
			fmt.Printf("  Reset with: sisyphus analysis reset %s\n", rec.Name)
		}
	}
	return nil
}

func runAnalysisReset(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	rec, err := getAnalysis(cmd, env, args[0])
	if err != nil {
		return err
	}

	// Holding the run lock keeps a reset from racing a run of the same analysis
	var updated models.AnalysisRecord
	err = services.WithRunLock(env.config.LocksDir, rec.Name, env.logger, func() error {
		var resetErr error
		updated, resetErr = pipeline.NewStateMachine(env.catalog, rec, env.logger, env.recorder).Reset(cmd.Context())
		return resetErr
	})
	if err != nil {
		return err
	}
	if err := env.catalog.UpdateAnalysisInformationStatus(cmd.Context(), updated.JiraTicket, models.AnalysisStatusIdle); err != nil {
		env.logger.Warn("Failed to update lab analysis information", "jira_ticket", updated.JiraTicket, "error", err)
	}

	fmt.Printf("%s %s is %s\n", statusSymbol(updated.Status), updated.Name, updated.Status)
	return nil
}

func getAnalysis(cmd *cobra.Command, env *environment, name string) (models.AnalysisRecord, error) {
	lookup, err := env.catalog.GetAnalysis(cmd.Context(), name)
	if err != nil {
		return models.AnalysisRecord{}, err
	}
	rec, ok := lookup.Get()
	if !ok {
		return models.AnalysisRecord{}, lib.ErrAnalysisNotFound(name)
	}
	return rec, nil
}
