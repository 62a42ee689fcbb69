package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/manifest"
	"github.com/edgefleet/c2d/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:     "apply -f <plan.yaml|plan.toml>",
	GroupID: "ops",
	Short:   "Queue every operation in a plan file",
	Long: `Queue every operation in a YAML or TOML plan file in one transaction.

Steps name each other by key in "after". A reference that is not a key in
the plan must be the id of an existing operation.

Example plan.yaml:
  agent: edge-01
  operations:
    - key: stop
      operation: STOP
      operand: nginx
    - key: update
      operation: UPDATE
      operand: nginx
      args: {version: "1.27"}
      after: [stop]
    - operation: START
      operand: nginx
      after: [update]`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		plan, err := manifest.ParseFile(file)
		if err != nil {
			FatalErrorRespectJSON(err, "cannot read plan")
		}
		reqs, err := plan.Requests()
		if err != nil {
			FatalErrorRespectJSON(err, "invalid plan")
		}
		if dryRun {
			if jsonOutput {
				outputJSON(map[string]interface{}{"file": file, "operations": len(reqs), "keys": plan.Keys()})
				return
			}
			fmt.Printf("%s %s is valid: %d operation(s)\n", ui.RenderPass(ui.IconPass), file, len(reqs))
			return
		}

		ops, err := svc.CreateOperations(rootCtx, reqs, getActor())
		if err != nil {
			FatalErrorRespectJSON(err, "apply failed")
		}
		if jsonOutput {
			outputJSON(ops)
			return
		}
		fmt.Printf("%s Queued %d operation(s) from %s\n", ui.RenderPass(ui.IconPass), len(ops), file)
		for _, op := range ops {
			fmt.Printf("  %s  %s  %s\n", op.ID, ui.RenderState(op.State), describeOperation(op.Operation, op.Operand))
		}
	},
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Plan file (.yaml, .yml or .toml)")
	applyCmd.Flags().Bool("dry-run", false, "Validate the plan without queuing anything")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
