package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/types"
)

var batchCmd = &cobra.Command{
	Use:     "batch <agent>",
	GroupID: "ops",
	Short:   "Compute the next dispatch batch for an agent",
	Long: `Compute the batch an agent would receive on its next heartbeat.

Each operation in the batch has all of its dependencies either DONE or
earlier in the same batch. Computing a batch does not change any state.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxCandidates, _ := cmd.Flags().GetInt("max")
		if maxCandidates < 0 {
			FatalErrorRespectJSON(types.ErrValidation, "--max must not be negative")
		}
		batch, err := svc.SelectBatch(rootCtx, args[0], maxCandidates)
		if err != nil {
			FatalErrorRespectJSON(err, "batch failed")
		}
		if jsonOutput {
			if batch == nil {
				batch = []types.C2Operation{}
			}
			outputJSON(batch)
			return
		}
		printBatch(os.Stdout, args[0], batch)
	},
}

func init() {
	batchCmd.Flags().IntP("max", "n", 0, "Candidates to inspect (0 = scheduler.max-candidates)")
	rootCmd.AddCommand(batchCmd)
}
