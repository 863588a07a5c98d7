package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trobanga/sisyphus/internal/lib"
)

var (
	transferFrom string
	transferTo   string
)

// transferCmd copies a tagged batch between storages, for retrying a failed run transfer by hand
var transferCmd = &cobra.Command{
	Use:   "transfer <tag>",
	Short: "Copy every file of a tag between storages",
	Long: `Copy the files of every dataset in a tag from one storage to another.

Runs leave the tag of a failed transfer in place, so the copy can be
retried once the cause is fixed. Files already present at the destination
with the recorded size are skipped.

Example:
  sisyphus transfer SC-1234_inputs --from remote --to local`,
	Args: cobra.ExactArgs(1),
	RunE: runTransfer,
}

func init() {
	rootCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVar(&transferFrom, "from", "", "source storage")
	transferCmd.Flags().StringVar(&transferTo, "to", "", "destination storage")
	_ = transferCmd.MarkFlagRequired("from")
	_ = transferCmd.MarkFlagRequired("to")
}

func runTransfer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	tag := args[0]
	op := fmt.Sprintf("transfer %s from %s to %s", tag, transferFrom, transferTo)
	err = lib.LogOperation(env.logger, op, func() error {
		return env.storage.Copy(ctx, tag, transferFrom, transferTo)
	})
	if err != nil {
		env.recorder.ObserveTransfer(transferFrom, transferTo, "failure")
		return err
	}
	env.recorder.ObserveTransfer(transferFrom, transferTo, "success")

	fmt.Printf("✓ Transferred %s from %s to %s\n", tag, transferFrom, transferTo)
	return nil
}
