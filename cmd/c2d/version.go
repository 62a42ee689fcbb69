package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version of c2d (overridden by ldflags at build time)
	Version = "0.1.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit and Branch are set via ldflags at compile time
	Commit = ""
	Branch = ""
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "setup",
	Short:   "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			result := map[string]string{
				"version": Version,
				"build":   Build,
			}
			if Commit != "" {
				result["commit"] = Commit
			}
			if Branch != "" {
				result["branch"] = Branch
			}
			outputJSON(result)
			return
		}
		info := fmt.Sprintf("c2d version %s (%s", Version, Build)
		if Commit != "" {
			short := Commit
			if len(short) > 7 {
				short = short[:7]
			}
			info += ": " + short
			if Branch != "" {
				info += "@" + Branch
			}
		}
		fmt.Println(info + ")")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
