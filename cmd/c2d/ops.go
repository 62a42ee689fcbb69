package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/types"
	"github.com/edgefleet/c2d/internal/ui"
)

var opCmd = &cobra.Command{
	Use:     "op",
	GroupID: "ops",
	Short:   "Create, inspect and change operations",
}

var opCreateCmd = &cobra.Command{
	Use:   "create <operation> [operand]",
	Short: "Queue an operation for an agent",
	Long: `Queue an operation for an agent.

Examples:
  c2d op create START nginx --agent edge-01
  c2d op create UPDATE firmware --agent edge-01 --arg version=2.1 --after <id>`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		deps, _ := cmd.Flags().GetStringSlice("after")
		argPairs, _ := cmd.Flags().GetStringArray("arg")
		stateRaw, _ := cmd.Flags().GetString("state")

		opArgs, err := parseArgPairs(argPairs)
		if err != nil {
			FatalErrorRespectJSON(err, "invalid --arg")
		}
		op := &types.Operation{
			Operation:     types.OperationType(args[0]),
			Args:          opArgs,
			Dependencies:  deps,
			TargetAgentID: agent,
		}
		if len(args) > 1 {
			op.Operand = args[1]
		}
		if stateRaw != "" {
			state, err := types.ParseOperationState(stateRaw)
			if err != nil {
				FatalErrorRespectJSON(err, "invalid --state")
			}
			op.State = state
		}

		created, err := svc.CreateOperation(rootCtx, op, getActor())
		if err != nil {
			FatalErrorRespectJSON(err, "create failed")
		}
		if jsonOutput {
			outputJSON(created)
			return
		}
		fmt.Printf("%s Created %s: %s for %s (%s)\n", ui.RenderPass(ui.IconPass), ui.RenderAccent(created.ID),
			describeOperation(created.Operation, created.Operand), created.TargetAgentID, ui.RenderState(created.State))
	},
}

// parseArgPairs turns repeated key=value flags into an args map.
func parseArgPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", types.ErrValidation, p)
		}
		out[k] = v
	}
	return out, nil
}

var opListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		agent, _ := cmd.Flags().GetString("agent")
		stateRaw, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := types.OperationFilter{TargetAgentID: agent, Limit: limit}
		if stateRaw != "" {
			state, err := types.ParseOperationState(stateRaw)
			if err != nil {
				FatalErrorRespectJSON(err, "invalid --state")
			}
			filter.State = state
		}
		ops, err := svc.GetOperations(rootCtx, filter)
		if err != nil {
			FatalErrorRespectJSON(err, "list failed")
		}
		if jsonOutput {
			if ops == nil {
				ops = []*types.Operation{}
			}
			outputJSON(ops)
			return
		}
		printOperationTable(os.Stdout, ops)
	},
}

var opShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one operation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		op, err := svc.GetOperation(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON(err, "show failed")
		}
		if jsonOutput {
			outputJSON(op)
			return
		}
		printOperation(os.Stdout, op)
	},
}

var opStateCmd = &cobra.Command{
	Use:   "state <id> <state>",
	Short: "Move an operation to a new state",
	Long: `Move an operation to a new state.

FAILED and CANCELLED also cancel every operation that depends on it,
directly or transitively.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		state, err := types.ParseOperationState(args[1])
		if err != nil {
			FatalErrorRespectJSON(err, "invalid state")
		}
		op, err := svc.UpdateOperationState(rootCtx, args[0], state, getActor())
		if err != nil {
			FatalErrorRespectJSON(err, "state change failed")
		}
		if jsonOutput {
			outputJSON(op)
			return
		}
		fmt.Printf("%s %s is now %s\n", ui.RenderPass(ui.IconPass), ui.RenderAccent(op.ID), ui.RenderState(op.State))
	},
}

var opDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an operation nothing depends on",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := svc.DeleteOperation(rootCtx, args[0], getActor()); err != nil {
			FatalErrorRespectJSON(err, "delete failed")
		}
		if jsonOutput {
			outputJSON(map[string]string{"deleted": args[0]})
			return
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass(ui.IconPass), args[0])
	},
}

func init() {
	opCreateCmd.Flags().StringP("agent", "a", "", "Target agent id (required)")
	opCreateCmd.Flags().StringSlice("after", nil, "Ids of operations this one depends on")
	opCreateCmd.Flags().StringArray("arg", nil, "Operation argument as key=value (repeatable)")
	opCreateCmd.Flags().String("state", "", "Initial state (NEW, READY or QUEUED)")
	_ = opCreateCmd.MarkFlagRequired("agent")

	opListCmd.Flags().StringP("agent", "a", "", "Only operations for this agent")
	opListCmd.Flags().StringP("state", "s", "", "Only operations in this state")
	opListCmd.Flags().IntP("limit", "n", 0, "Maximum number of operations (0 = all)")

	opCmd.AddCommand(opCreateCmd, opListCmd, opShowCmd, opStateCmd, opDeleteCmd)
	rootCmd.AddCommand(opCmd)
}
