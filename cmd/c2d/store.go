package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/edgefleet/c2d/internal/config"
	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/storage/dolt"
	"github.com/edgefleet/c2d/internal/storage/memory"
	"github.com/edgefleet/c2d/internal/telemetry"
	"github.com/edgefleet/c2d/internal/types"
)

// projectDir returns the directory holding .c2d. Priority: --db / db config,
// then the nearest ancestor of the working directory containing .c2d, then
// the working directory itself.
func projectDir() (string, error) {
	if p := config.GetString("db"); p != "" {
		return filepath.Abs(p)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, config.ProjectDirName)); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return cwd, nil
}

// dataDir is <project>/.c2d.
func dataDir() (string, error) {
	dir, err := projectDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.ProjectDirName), nil
}

// doltConfigFromSettings builds the Dolt store configuration from the dolt.*
// keys. dataDir is used for the default embedded path.
func doltConfigFromSettings(dataDir string, logger *slog.Logger) *dolt.Config {
	path := config.GetString("dolt.path")
	if path == "" {
		path = filepath.Join(dataDir, "dolt")
	}
	who := getActor()
	return &dolt.Config{
		Path:           path,
		Database:       config.GetString("dolt.database"),
		CommitterName:  who,
		CommitterEmail: who + "@c2d.local",
		OpenTimeout:    config.GetDuration("dolt.open-timeout"),
		AutoCommit:     config.GetBool("dolt.auto-commit"),
		ServerMode:     config.GetBool("dolt.server-mode"),
		ServerHost:     config.GetString("dolt.host"),
		ServerPort:     config.GetInt("dolt.port"),
		ServerUser:     config.GetString("dolt.user"),
		ServerPassword: config.GetString("dolt.password"),
		DSN:            config.GetString("dolt.dsn"),
		Logger:         logger,
	}
}

// openStore opens the configured backend. The second result is the concrete
// Dolt store when that backend is in use, nil otherwise.
func openStore(ctx context.Context, logger *slog.Logger) (storage.Storage, *dolt.DoltStore, error) {
	switch backend := config.GetString("storage.backend"); backend {
	case "memory":
		logger.Debug("using in-memory storage")
		return telemetry.WrapStorage(memory.New()), nil, nil
	case "dolt", "":
		dir, err := dataDir()
		if err != nil {
			return nil, nil, err
		}
		cfg := doltConfigFromSettings(dir, logger)
		ds, err := dolt.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("opened dolt storage", "path", ds.Path(), "server_mode", ds.ServerMode())
		return telemetry.WrapStorage(ds), ds, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func storageHint(err error) string {
	if errors.Is(err, dolt.ErrNoCGO) {
		return "set storage.backend to memory, or dolt.server-mode to true"
	}
	return "check the dolt.* settings with 'c2d config list'"
}

// limitsFromConfig reads the reloadable scheduler settings.
func limitsFromConfig() (scheduler.Limits, error) {
	l := scheduler.Limits{
		MaxCandidates: config.GetInt("scheduler.max-candidates"),
		MaxGraphNodes: config.GetInt("scheduler.max-graph-nodes"),
	}
	if raw := config.GetString("operations.initial-state"); raw != "" {
		state, err := types.ParseOperationState(raw)
		if err != nil {
			return l, fmt.Errorf("operations.initial-state: %w", err)
		}
		l.InitialState = state
	}
	return l, l.Validate()
}

func newService(s storage.Storage) (*scheduler.Service, error) {
	limits, err := limitsFromConfig()
	if err != nil {
		return nil, err
	}
	return scheduler.New(s, logger, limits)
}
