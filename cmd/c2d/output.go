package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/edgefleet/c2d/internal/types"
	"github.com/edgefleet/c2d/internal/ui"
)

// outputJSON outputs data as pretty-printed JSON
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		FatalError("encoding JSON: %v", err)
	}
}

// outputJSONError outputs an error as JSON to stdout.
func outputJSONError(msg string, err error) {
	errObj := map[string]string{"error": msg}
	if err != nil {
		errObj["details"] = err.Error()
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

// printOperationTable writes one line per operation.
func printOperationTable(w io.Writer, ops []*types.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No operations"))
		return
	}
	for _, op := range ops {
		fmt.Fprintf(w, "%s %s  %s  %s  %s\n",
			ui.StateIcon(op.State),
			ui.PadRight(op.ID, 36),
			ui.PadRight(ui.RenderState(op.State), 10),
			ui.PadRight(ui.RenderAccent(op.TargetAgentID), 16),
			describeOperation(op.Operation, op.Operand))
	}
}

func describeOperation(kind types.OperationType, operand string) string {
	if operand == "" {
		return string(kind)
	}
	return fmt.Sprintf("%s %s", kind, operand)
}

// printOperation writes the detail view of one operation.
func printOperation(w io.Writer, op *types.Operation) {
	fmt.Fprintf(w, "%s %s\n", ui.StateIcon(op.State), ui.RenderAccent(op.ID))
	fmt.Fprintf(w, "  Operation: %s\n", describeOperation(op.Operation, op.Operand))
	fmt.Fprintf(w, "  Agent:     %s\n", op.TargetAgentID)
	fmt.Fprintf(w, "  State:     %s\n", ui.RenderState(op.State))
	fmt.Fprintf(w, "  Created:   %s by %s\n", formatMillis(op.Created), op.CreatedBy)
	fmt.Fprintf(w, "  Updated:   %s\n", formatMillis(op.Updated))
	if len(op.Args) > 0 {
		keys := make([]string, 0, len(op.Args))
		for k := range op.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "  Args:")
		for _, k := range keys {
			fmt.Fprintf(w, "    %s=%s\n", k, op.Args[k])
		}
	}
	if len(op.Dependencies) > 0 {
		fmt.Fprintln(w, "  Depends on:")
		for i, dep := range op.Dependencies {
			branch := ui.TreeChild
			if i == len(op.Dependencies)-1 {
				branch = ui.TreeLast
			}
			fmt.Fprintf(w, "    %s%s\n", branch, dep)
		}
	}
}

// printBatch writes a dispatch batch in execution order.
func printBatch(w io.Writer, agentID string, batch []types.C2Operation) {
	if len(batch) == 0 {
		fmt.Fprintf(w, "%s\n", ui.RenderMuted("No operations ready for "+agentID))
		return
	}
	fmt.Fprintf(w, "%s %d operation(s) for %s\n", ui.RenderPass(ui.IconPass), len(batch), ui.RenderAccent(agentID))
	for i, op := range batch {
		line := fmt.Sprintf("%3d. %s  %s", i+1, op.Identifier, describeOperation(op.Operation, op.Operand))
		if len(op.Dependencies) > 0 {
			line += ui.RenderMuted("  after " + strings.Join(op.Dependencies, ", "))
		}
		fmt.Fprintln(w, line)
	}
}

// printEvents writes the audit trail, newest last.
func printEvents(w io.Writer, events []*types.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No events"))
		return
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s  %s  %-20s %s",
			formatMillis(e.Created), ui.RenderSeverity(e.Severity), e.EventType, e.Message)
		if e.Actor != "" {
			fmt.Fprint(w, ui.RenderMuted(" ("+e.Actor+")"))
		}
		fmt.Fprintln(w)
	}
}

// printStats writes per-state counts in lifecycle order.
func printStats(w io.Writer, counts map[types.OperationState]int) {
	total := 0
	for _, state := range types.AllStates() {
		n := counts[state]
		total += n
		fmt.Fprintf(w, "  %s %s %d\n", ui.StateIcon(state), ui.PadRight(ui.RenderState(state), 10), n)
	}
	fmt.Fprintln(w, ui.RenderSeparator())
	fmt.Fprintf(w, "  Total %d\n", total)
}
