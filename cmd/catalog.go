package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/services"
)

// catalogCmd represents the catalog command group
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the metadata catalog",
	Long: `Manage the metadata catalog.

Available subcommands:
  load      - Load libraries and datasets from a YAML seed
  libraries - List libraries and their readiness`,
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load <seed.yaml>",
	Short: "Load libraries and datasets from a YAML seed",
	Long: `Load libraries and datasets from a YAML seed document.

Libraries replace existing ones with the same id. Datasets whose name is
already in the catalog are skipped, so a seed can be loaded repeatedly.

Example:
  sisyphus catalog load seed.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogLoad,
}

var catalogLibrariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List libraries and their readiness",
	RunE:  runCatalogLibraries,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogLoadCmd)
	catalogCmd.AddCommand(catalogLibrariesCmd)
}

func runCatalogLoad(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	seed, err := services.ReadCatalogSeed(args[0])
	if err != nil {
		return err
	}

	var summary services.SeedSummary
	err = lib.LogOperation(env.logger, fmt.Sprintf("load catalog seed %s", args[0]), func() error {
		var loadErr error
		summary, loadErr = env.catalog.LoadSeed(cmd.Context(), seed)
		return loadErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ Loaded %d libraries and %d datasets (%d already present)\n",
		summary.Libraries, summary.Datasets, summary.DatasetsSkipped)
	return nil
}

func runCatalogLibraries(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	libraries, err := env.catalog.ListLibraries(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list libraries: %w", err)
	}
	if len(libraries) == 0 {
		fmt.Println("No libraries found")
		return nil
	}

	rows := make([][]string, 0, len(libraries))
	for _, l := range libraries {
		readiness := pipeline.Evaluate(l)
		ready := "✓"
		if !readiness.Ready {
			ready = "✗ " + readiness.Reason
		}
		rows = append(rows, []string{l.ID, l.TaxonomyID, fmt.Sprintf("%d", len(readiness.Lanes)), ready})
	}
	fmt.Println(renderTable([]string{"LIBRARY", "TAXONOMY", "LANES", "READY"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	fmt.Printf("\nTotal: %d libraries\n", len(libraries))
	return nil
}
