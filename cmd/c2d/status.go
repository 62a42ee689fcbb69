package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/config"
	"github.com/edgefleet/c2d/internal/lockfile"
	"github.com/edgefleet/c2d/internal/types"
	"github.com/edgefleet/c2d/internal/ui"
)

type statusReport struct {
	Backend    string                       `json:"backend"`
	Location   string                       `json:"location,omitempty"`
	ConfigFile string                       `json:"config_file,omitempty"`
	Server     *lockfile.LockInfo           `json:"server,omitempty"`
	Counts     map[types.OperationState]int `json:"counts"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "views",
	Short:   "Show storage, server and per-state operation counts",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		report := statusReport{
			Backend:    config.GetString("storage.backend"),
			ConfigFile: config.ConfigFileUsed(),
		}
		if doltStore != nil {
			report.Location = doltStore.Path()
			if doltStore.ServerMode() {
				report.Location = fmt.Sprintf("%s:%d/%s", config.GetString("dolt.host"), config.GetInt("dolt.port"), config.GetString("dolt.database"))
			}
		}
		if dir, err := dataDir(); err == nil {
			if running, pid := lockfile.TryServerLock(dir); running {
				info, err := lockfile.ReadLockInfo(dir)
				if err != nil {
					info = &lockfile.LockInfo{PID: pid}
				}
				report.Server = info
			}
		}
		counts, err := svc.Stats(rootCtx)
		if err != nil {
			FatalErrorRespectJSON(err, "status failed")
		}
		report.Counts = counts

		if jsonOutput {
			outputJSON(report)
			return
		}
		fmt.Println(ui.RenderCategory("Storage"))
		fmt.Printf("  Backend:  %s\n", report.Backend)
		if report.Location != "" {
			fmt.Printf("  Location: %s\n", report.Location)
		}
		if report.ConfigFile != "" {
			fmt.Printf("  Config:   %s\n", report.ConfigFile)
		}
		fmt.Println(ui.RenderCategory("Server"))
		if report.Server == nil {
			fmt.Printf("  %s\n", ui.RenderMuted("not running"))
		} else {
			fmt.Printf("  %s running (pid %d) on %s\n", ui.RenderPass(ui.IconPass), report.Server.PID, report.Server.Listen)
		}
		fmt.Println(ui.RenderCategory("Operations"))
		printStats(os.Stdout, report.Counts)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
