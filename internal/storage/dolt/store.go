// Package dolt implements storage.Storage on Dolt, a version-controlled
// MySQL-compatible database.
//
// Connection modes:
//   - Embedded: no server required, database/sql via dolthub/driver (needs cgo)
//   - Server: MySQL protocol to a running dolt sql-server, for multiple schedulers
//     sharing one operation table
package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/edgefleet/c2d/internal/storage"
)

const (
	// DefaultSQLPort is the port dolt sql-server listens on by default.
	DefaultSQLPort = 3307
	// DefaultDatabase is the database created when Config.Database is empty.
	DefaultDatabase = "c2d"
)

var errStoreClosed = errors.New("dolt store is closed")

// ErrNoCGO is returned for embedded mode in binaries built without cgo.
var ErrNoCGO = errors.New("dolt: this binary was built without CGO support; rebuild with CGO_ENABLED=1")

// DoltStore implements storage.Storage using Dolt.
type DoltStore struct {
	db         *sql.DB
	dbPath     string
	closed     atomic.Bool
	mu         sync.RWMutex
	readOnly   bool
	serverMode bool
	autoCommit bool
	accessLock *AccessLock
	logger     *slog.Logger

	// closeConnector releases the embedded engine's filesystem locks. Nil in server mode.
	closeConnector func() error

	committerName  string
	committerEmail string
}

var _ storage.Storage = (*DoltStore)(nil)

// Config holds Dolt database configuration.
type Config struct {
	Path           string        // Dolt database directory (embedded mode)
	Database       string        // Database name within Dolt (default: "c2d")
	CommitterName  string        // Author of Dolt commits
	CommitterEmail string        // Author email of Dolt commits
	ReadOnly       bool          // Skip schema init and take a shared access lock
	OpenTimeout    time.Duration // Advisory lock timeout (0 = no advisory lock)
	AutoCommit     bool          // Create a Dolt commit after every write transaction

	// Server mode options
	ServerMode     bool
	ServerHost     string // default: 127.0.0.1
	ServerPort     int    // default: 3307
	ServerUser     string // default: root
	ServerPassword string // default: $C2D_DOLT_PASSWORD
	ServerTLS      bool
	// DSN is a complete go-sql-driver/mysql DSN. When set it overrides the
	// host, port, user, password and database fields and implies server mode.
	DSN string

	Logger *slog.Logger
}

// server mode uses go-sql-driver/mysql, which has no retry of its own
const serverRetryMaxElapsed = 30 * time.Second

// New opens (creating if necessary) a Dolt-backed store and initializes its schema.
func New(ctx context.Context, cfg *Config) (*DoltStore, error) {
	cfg.applyDefaults()
	if err := validateDatabaseName(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name %q: %w", cfg.Database, err)
	}
	if !cfg.ServerMode {
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		return newEmbeddedMode(ctx, cfg)
	}
	return newServerMode(ctx, cfg)
}

func (cfg *Config) applyDefaults() {
	if cfg.DSN != "" {
		cfg.ServerMode = true
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = os.Getenv("GIT_AUTHOR_NAME")
		if cfg.CommitterName == "" {
			cfg.CommitterName = "c2d"
		}
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = os.Getenv("GIT_AUTHOR_EMAIL")
		if cfg.CommitterEmail == "" {
			cfg.CommitterEmail = "c2d@local"
		}
	}
	if cfg.ServerHost == "" {
		cfg.ServerHost = "127.0.0.1"
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultSQLPort
	}
	if cfg.ServerUser == "" {
		cfg.ServerUser = "root"
	}
	// Environment is preferred over flags for the password.
	if cfg.ServerPassword == "" {
		cfg.ServerPassword = os.Getenv("C2D_DOLT_PASSWORD")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

func newServerMode(ctx context.Context, cfg *Config) (*DoltStore, error) {
	mcfg, err := serverConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Fail fast with a clear message instead of waiting on driver timeouts.
	if mcfg.Net == "tcp" {
		conn, err := net.DialTimeout("tcp", mcfg.Addr, 500*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("dolt server unreachable at %s: %w\n\nStart one in the database directory with:\n  dolt sql-server", mcfg.Addr, err)
		}
		_ = conn.Close()
	}

	if err := ensureServerDatabase(ctx, mcfg); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", mcfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open Dolt server connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping Dolt database: %w", err)
	}

	store := &DoltStore{
		db:             db,
		readOnly:       cfg.ReadOnly,
		serverMode:     true,
		autoCommit:     cfg.AutoCommit,
		logger:         cfg.Logger,
		committerName:  cfg.CommitterName,
		committerEmail: cfg.CommitterEmail,
	}
	if !cfg.ReadOnly {
		if err := store.withRetry(ctx, func() error { return initSchemaOnDB(ctx, db) }); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return store, nil
}

// serverConfig builds the driver configuration for server mode. The database
// name from an explicit DSN wins over Config.Database.
func serverConfig(cfg *Config) (*mysql.Config, error) {
	var mcfg *mysql.Config
	if cfg.DSN != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid dolt DSN: %w", err)
		}
		mcfg = parsed
		if mcfg.DBName == "" {
			mcfg.DBName = cfg.Database
		}
		if err := validateDatabaseName(mcfg.DBName); err != nil {
			return nil, fmt.Errorf("invalid database name %q: %w", mcfg.DBName, err)
		}
		cfg.Database = mcfg.DBName
	} else {
		mcfg = mysql.NewConfig()
		mcfg.User = cfg.ServerUser
		mcfg.Passwd = cfg.ServerPassword
		mcfg.Net = "tcp"
		mcfg.Addr = net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
		mcfg.DBName = cfg.Database
		if cfg.ServerTLS {
			mcfg.TLSConfig = "true"
		}
	}
	mcfg.ParseTime = true
	return mcfg, nil
}

// ensureServerDatabase connects without selecting a database and creates it.
func ensureServerDatabase(ctx context.Context, mcfg *mysql.Config) error {
	initCfg := mcfg.Clone()
	initCfg.DBName = ""
	initDB, err := sql.Open("mysql", initCfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("failed to open init connection: %w", err)
	}
	defer func() { _ = initDB.Close() }()

	_, err = initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", mcfg.DBName)) //nolint:gosec // G201: name validated by validateDatabaseName
	if err == nil || isDatabaseExists(err) {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return fmt.Errorf("failed to connect to Dolt server at %s: %w", mcfg.Addr, err)
	}
	return fmt.Errorf("failed to create database: %w", err)
}

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]{0,63}$`)

// validateDatabaseName guards the backtick-quoted CREATE DATABASE statement.
func validateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return errors.New("must be 1-64 characters of letters, digits, '_' or '-'")
	}
	return nil
}

// withRetry executes op with retry for transient connection errors.
// Only active in server mode; embedded mode has driver-level retry.
func (s *DoltStore) withRetry(ctx context.Context, op func() error) error {
	if !s.serverMode {
		return op()
	}
	bo := newExponentialBackOff(100*time.Millisecond, 5*time.Second, serverRetryMaxElapsed)
	return retry(ctx, bo, op, isRetryableError, func(err error, wait time.Duration) {
		s.log(ctx).Warn("dolt: transient error, retrying", "error", err, "wait", wait)
	})
}

func (s *DoltStore) checkOpen() error {
	if s.closed.Load() {
		return errStoreClosed
	}
	return nil
}

// Close closes the database connection and releases the embedded engine.
func (s *DoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.db != nil {
		if cerr := closeWithTimeout("db", s.db.Close); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = errors.Join(err, cerr)
		}
	}
	if s.closeConnector != nil {
		// Dolt shutdown plumbing surfaces context.Canceled; that is not a failure.
		if cerr := closeWithTimeout("embeddedConnector", s.closeConnector); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = errors.Join(err, cerr)
		}
		s.closeConnector = nil
	}
	s.accessLock.Release()
	s.accessLock = nil
	return err
}

// Path returns the database directory (empty in server mode).
func (s *DoltStore) Path() string {
	return s.dbPath
}

// ServerMode reports whether the store talks to a dolt sql-server.
func (s *DoltStore) ServerMode() bool {
	return s.serverMode
}

// closeTimeout bounds Close; the embedded engine can hang during shutdown.
const closeTimeout = 5 * time.Second

func closeWithTimeout(name string, closeFn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- closeFn()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(closeTimeout):
		return fmt.Errorf("%s close timed out after %v", name, closeTimeout)
	}
}

// UnderlyingDB returns the underlying *sql.DB connection.
func (s *DoltStore) UnderlyingDB() *sql.DB {
	return s.db
}
