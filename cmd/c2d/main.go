package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgefleet/c2d/internal/config"
	"github.com/edgefleet/c2d/internal/ctxlog"
	"github.com/edgefleet/c2d/internal/logging"
	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/storage/dolt"
)

var (
	dbPath      string
	actor       string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	logger *slog.Logger
	store  storage.Storage
	// doltStore is the concrete store behind store when the dolt backend is
	// in use, for commands that need Dolt history.
	doltStore *dolt.DoltStore
	svc       *scheduler.Service
)

// noDbCommands never open the store; serve opens its own after telemetry
// is initialized.
var noDbCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
	"config":     true,
	"serve":      true,
}

func isNoDbCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return true
		}
	}
	return noDbCommands[cmd.Name()]
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Project directory holding .c2d (default: auto-discover)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor name for audit trail (default: $C2D_ACTOR, git user.name, $USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "ops", Title: "Working With Operations:"})
	rootCmd.AddGroup(&cobra.Group{ID: "views", Title: "Views & Reports:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Server:"})
}

var rootCmd = &cobra.Command{
	Use:   "c2d",
	Short: "c2d - command and control for edge agents",
	Long: `c2d queues operations for a fleet of edge agents and hands each agent a
dependency-ordered batch on every heartbeat. Failing or cancelling an
operation cancels everything that depends on it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("c2d version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyFlagOverrides(cmd)
		setupLogger()

		if isNoDbCommand(cmd) {
			return
		}
		openCommandStore()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
			store, doltStore, svc = nil, nil, nil
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// applyFlagOverrides pushes explicitly set persistent flags into config so
// flags win over file and environment values.
func applyFlagOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("db") {
		config.Set("db", dbPath)
	}
	if cmd.Flags().Changed("actor") {
		config.Set("actor", actor)
	}
	if cmd.Flags().Changed("json") {
		config.Set("json", jsonOutput)
	}
	jsonOutput = config.GetBool("json")
}

func setupLogger() {
	l, err := logging.New(os.Stderr, logging.Options{
		Level:   config.GetString("log.level"),
		Format:  config.GetString("log.format"),
		Verbose: verboseFlag,
		Quiet:   quietFlag,
	})
	if err != nil {
		WarnError("%v; using defaults", err)
		l, _ = logging.New(os.Stderr, logging.Options{Verbose: verboseFlag, Quiet: quietFlag})
	}
	logger = l
	rootCtx = ctxlog.WithLogger(rootCtx, logger)
}

// openCommandStore opens the configured store and the operation service for
// a CLI command.
func openCommandStore() {
	s, ds, err := openStore(rootCtx, logger)
	if err != nil {
		FatalErrorWithHint(fmt.Sprintf("failed to open storage: %v", err), storageHint(err))
	}
	service, err := newService(s)
	if err != nil {
		_ = s.Close()
		FatalError("%v", err)
	}
	store, doltStore, svc = s, ds, service
}

// getActor returns the actor for audit trails.
// Priority: --actor flag > actor config > C2D_ACTOR env > git config user.name > $USER > "unknown"
func getActor() string {
	if a := config.GetString("actor"); a != "" {
		return a
	}
	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		if gitUser := strings.TrimSpace(string(out)); gitUser != "" {
			return gitUser
		}
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
