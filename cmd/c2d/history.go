package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "views",
	Short:   "Show Dolt commit history of the operation database",
	Long: `Show Dolt commit history of the operation database, newest first.

Commits are created after every write when dolt.auto-commit is true.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		if doltStore == nil {
			FatalErrorWithHint("history requires the dolt storage backend", "c2d config set storage.backend dolt")
		}
		commits, err := doltStore.Log(rootCtx, limit)
		if err != nil {
			FatalErrorRespectJSON(err, "history failed")
		}
		if jsonOutput {
			outputJSON(commits)
			return
		}
		if len(commits) == 0 {
			fmt.Println(ui.RenderMuted("No commits"))
			return
		}
		for _, c := range commits {
			fmt.Printf("%s %s %s\n    %s\n",
				ui.RenderAccent(shortHash(c.Hash)),
				c.Date.Local().Format("2006-01-02 15:04"),
				ui.RenderMuted(c.Author),
				c.Message)
		}
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of commits")
	rootCmd.AddCommand(historyCmd)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
