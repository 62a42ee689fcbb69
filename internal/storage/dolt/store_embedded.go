//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	return newExponentialBackOff(backoff.DefaultInitialInterval, backoff.DefaultMaxInterval, embeddedOpenMaxElapsed)
}

// newEmbeddedMode opens the embedded Dolt engine in cfg.Path.
func newEmbeddedMode(ctx context.Context, cfg *Config) (*DoltStore, error) {
	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The driver stacks its working directory on top of relative paths.
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Keep several c2d processes from fighting over Dolt's internal LOCK file.
	var accessLock *AccessLock
	if cfg.OpenTimeout > 0 && os.Getenv("C2D_SKIP_ACCESS_LOCK") == "" {
		accessLock, err = AcquireAccessLock(absPath, !cfg.ReadOnly, cfg.OpenTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire dolt access lock: %w", err)
		}
	}

	params := url.Values{}
	params.Set("commitname", cfg.CommitterName)
	params.Set("commitemail", cfg.CommitterEmail)
	initDSN := "file://" + absPath + "?" + params.Encode()
	params.Set("database", cfg.Database)
	dbDSN := "file://" + absPath + "?" + params.Encode()

	if !cfg.ReadOnly {
		// Database and schema are created as separate units of work, each with
		// its own connector, before the long-lived connector is opened.
		err := withEmbeddedDolt(ctx, initDSN, func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database)) //nolint:gosec // G201: validated name
			return err
		})
		if err == nil {
			err = withEmbeddedDolt(ctx, dbDSN, func(ctx context.Context, db *sql.DB) error {
				return initSchemaOnDB(ctx, db)
			})
		}
		if err != nil {
			accessLock.Release()
			return nil, fmt.Errorf("failed to initialize embedded database: %w", err)
		}
	}

	db, connector, err := openEmbeddedConnection(dbDSN)
	if err != nil {
		accessLock.Release()
		return nil, err
	}

	// The driver keeps the context of the first Connect for the session, so
	// a caller context canceled after New returns would poison the pool.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		accessLock.Release()
		return nil, fmt.Errorf("failed to ping Dolt database: %w", err)
	}

	return &DoltStore{
		db:             db,
		dbPath:         absPath,
		readOnly:       cfg.ReadOnly,
		autoCommit:     cfg.AutoCommit,
		accessLock:     accessLock,
		logger:         cfg.Logger,
		closeConnector: connector.Close,
		committerName:  cfg.CommitterName,
		committerEmail: cfg.CommitterEmail,
	}, nil
}

// openEmbeddedConnection opens the long-lived single-writer pool. The
// connector must be closed after the pool to release filesystem locks.
func openEmbeddedConnection(dsn string) (*sql.DB, *embedded.Connector, error) {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Dolt DSN: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, connector, nil
}

// withEmbeddedDolt runs fn on a connector that is opened for this one unit
// of work and closed afterwards.
func withEmbeddedDolt(ctx context.Context, dsn string, fn func(ctx context.Context, db *sql.DB) error) (err error) {
	db, connector, err := openEmbeddedConnection(dsn)
	if err != nil {
		return err
	}
	defer func() {
		// Pool first, then the connector that owns the engine locks.
		cerr := errors.Join(ignoreContextCanceled(db.Close()), ignoreContextCanceled(connector.Close()))
		err = errors.Join(err, cerr)
	}()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return fn(ctx, db)
}

func ignoreContextCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
