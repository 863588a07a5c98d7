package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/ui"
)

var (
	runLibrary         string
	runType            string
	runAligner         string
	runJiraTicket      string
	runTag             string
	runInputsYAML      string
	runClean           bool
	runIntegrationTest bool
)

// runCmd executes one analysis end to end
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis for a library",
	Long: `Run one single cell analysis for a library.

The run checks that the library's sequencing is complete, finds or creates
the analysis and its ticket, transfers the inputs, runs the pipeline and
registers the outputs. Each step is journaled under the pipeline directory.

An analysis that is already complete is skipped. An analysis in error must be
reset with 'sisyphus analysis reset' before it runs again.

Interrupting the run (Ctrl+C) stops the pipeline and leaves a running
analysis in error.

Examples:
  # Align a library with bwa-aln
  sisyphus run --library A96213A --type align --aligner A

  # Rerun the hmmcopy analysis of an existing ticket in a fresh directory
  sisyphus run --library A96213A --type hmmcopy --aligner M --jira SC-1234 --clean`,
	RunE: runAnalysis,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runLibrary, "library", "", "library id to analyse")
	runCmd.Flags().StringVar(&runType, "type", string(models.AnalysisTypeAlign), "analysis type (align, hmmcopy, pseudobulk)")
	runCmd.Flags().StringVar(&runAligner, "aligner", "A", "aligner code (A = bwa-aln, M = bwa-mem)")
	runCmd.Flags().StringVar(&runJiraTicket, "jira", "", "existing analysis ticket")
	runCmd.Flags().StringVar(&runTag, "tag", "", "suffix of the job subdirectory")
	runCmd.Flags().StringVar(&runInputsYAML, "inputs-yaml", "", "use this manifest instead of generating one")
	runCmd.Flags().BoolVar(&runClean, "clean", false, "remove the pipeline directory before running")
	runCmd.Flags().BoolVar(&runIntegrationTest, "integration-test", false, "append TEST to the library id passed to the pipeline")
	_ = runCmd.MarkFlagRequired("library")
}

func runAnalysis(cmd *cobra.Command, args []string) error {
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

	runner := pipeline.NewRunner(env.dependencies(), env.config, env.logger, env.recorder)
	req := pipeline.RunRequest{
		Type:            models.AnalysisType(runType),
		LibraryID:       runLibrary,
		AlignerCode:     runAligner,
		JiraTicket:      runJiraTicket,
		Tag:             runTag,
		InputsYAML:      runInputsYAML,
		Clean:           runClean,
		IntegrationTest: runIntegrationTest,
	}

	result, err := runWithSpinner(ctx, runner, req)
	if err != nil {
		if result != nil && result.PipelineDir != "" {
			fmt.Fprintf(os.Stderr, "Run journal: %s\n", result.PipelineDir)
		}
		return err
	}

	printRunResult(result)
	return nil
}

func runWithSpinner(ctx context.Context, runner *pipeline.Runner, req pipeline.RunRequest) (*pipeline.RunResult, error) {
	if noProgress {
		return runner.Run(ctx, req)
	}

	spinner := ui.NewSpinner(fmt.Sprintf("Running %s analysis for %s", req.Type, req.LibraryID), os.Stderr)
	spinner.Start()
	result, err := runner.Run(ctx, req)
	spinner.Stop(err == nil)
	return result, err
}

func printRunResult(result *pipeline.RunResult) {
	if result.Skipped {
		fmt.Printf("Skipped: %s\n", result.Reason)
		if result.Analysis.Name != "" {
			fmt.Printf("  Analysis: %s (%s)\n", result.Analysis.Name, result.Analysis.JiraTicket)
		}
		return
	}

	fmt.Printf("Analysis:  %s\n", result.Analysis.Name)
	fmt.Printf("Ticket:    %s\n", result.Analysis.JiraTicket)
	fmt.Printf("Status:    %s %s\n", statusSymbol(result.Analysis.Status), result.Analysis.Status)
	fmt.Printf("Directory: %s\n", result.PipelineDir)
	fmt.Printf("Inputs:    %d datasets, %d results\n", len(result.InputDatasetIDs), len(result.InputResultsIDs))
	fmt.Printf("Outputs:   %d datasets, %d results\n", len(result.OutputDatasetIDs), len(result.OutputResultsIDs))
	if result.Analysis.Duration > 0 {
		fmt.Printf("Duration:  %s\n", ui.FormatDuration(result.Analysis.Duration))
	}
}

func statusSymbol(status models.AnalysisStatus) string {
	switch status {
	case models.AnalysisStatusComplete:
		return "✓"
	case models.AnalysisStatusRunning:
		return "→"
	case models.AnalysisStatusError:
		return "✗"
	case models.AnalysisStatusIdle:
		return "○"
	default:
		return "?"
	}
}
