package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edgefleet/c2d/internal/api"
	"github.com/edgefleet/c2d/internal/config"
	"github.com/edgefleet/c2d/internal/lockfile"
	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/telemetry"
)

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "setup",
	Short:   "Run the agent-facing HTTP server",
	Long: `Run the HTTP server agents heartbeat against.

Agents POST /api/heartbeat to receive their next batch and
POST /api/acknowledge to report results. Operators manage operations under
/api/operations. Reloadable scheduler settings in .c2d/config.yaml are
applied without a restart.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(rootCtx); err != nil {
			FatalError("%v", err)
		}
	},
}

func runServer(ctx context.Context) error {
	if err := telemetry.Init(ctx, telemetry.Options{
		ServiceName:  "c2d",
		Version:      Version,
		Enabled:      config.GetBool("telemetry.enabled"),
		Stdout:       config.GetBool("telemetry.stdout"),
		OTLPEndpoint: config.GetString("telemetry.otlp-endpoint"),
	}); err != nil {
		WarnError("telemetry disabled: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	dir, err := dataDir()
	if err != nil {
		return err
	}
	listen := config.GetString("server.listen")

	lock, err := lockfile.AcquireServerLock(dir, lockfile.LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  config.GetString("dolt.database"),
		Listen:    listen,
		Version:   Version,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, lockfile.ErrLockBusy) {
			return fmt.Errorf("%w\nstop the running server first, or use --db to serve another project", err)
		}
		return err
	}
	defer lock.Release()

	s, _, err := openStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = s.Close() }()

	service, err := newService(s)
	if err != nil {
		return err
	}
	if config.WatchConfig(func(e fsnotify.Event) { reloadLimits(service, e) }) {
		logger.Info("watching config for changes", "file", config.ConfigFileUsed())
	}

	srv := &http.Server{
		Addr: listen,
		Handler: api.NewHandler(api.Config{
			Service: service,
			Logger:  logger,
			Actor:   getActor(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	logger.Info("c2d server listening", "addr", ln.Addr().String(), "lock", lock.Path(), "version", Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := config.GetDuration("server.shutdown-timeout")
		logger.Info("shutting down", "grace", timeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reloadLimits applies reloadable scheduler settings after a config change.
// Invalid values are logged and the previous limits stay in effect.
func reloadLimits(service *scheduler.Service, e fsnotify.Event) {
	limits, err := limitsFromConfig()
	if err == nil {
		err = service.SetLimits(limits)
	}
	if err != nil {
		logger.Warn("config reload rejected", "file", e.Name, "error", err)
		return
	}
	logger.Info("config reloaded", "file", e.Name,
		"max_candidates", limits.MaxCandidates,
		"max_graph_nodes", limits.MaxGraphNodes,
		"initial_state", limits.InitialState)
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (default: server.listen)")
	if err := config.BindFlag("server.listen", serveCmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(serveCmd)
}
