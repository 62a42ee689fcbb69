package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/timeparsing"
	"github.com/edgefleet/c2d/internal/types"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: "views",
	Short:   "Show the audit trail",
	Long: `Show the audit trail of operation changes.

--since accepts a compact duration (30m, 6h, 2d, 1w), a date (2025-01-15),
an RFC 3339 timestamp or natural language such as "yesterday".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ref, _ := cmd.Flags().GetString("ref")
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := types.EventFilter{DetailRef: ref, Limit: limit}
		if since != "" {
			t, err := timeparsing.ParseSince(since, time.Now())
			if err != nil {
				FatalErrorRespectJSON(err, "invalid --since")
			}
			filter.Since = t
		}
		events, err := svc.Events(rootCtx, filter)
		if err != nil {
			FatalErrorRespectJSON(err, "events failed")
		}
		if jsonOutput {
			if events == nil {
				events = []*types.Event{}
			}
			outputJSON(events)
			return
		}
		printEvents(os.Stdout, events)
	},
}

func init() {
	eventsCmd.Flags().String("ref", "", "Only events about this operation id")
	eventsCmd.Flags().String("since", "", "Only events at or after this time")
	eventsCmd.Flags().IntP("limit", "n", 50, "Maximum number of events (0 = all)")
	rootCmd.AddCommand(eventsCmd)
}
