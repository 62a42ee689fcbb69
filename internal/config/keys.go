package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Key describes a configuration key.
type Key struct {
	Key         string      // Full key name (e.g., "scheduler.max-candidates")
	Description string      // Human-readable description
	Default     interface{} // Default value (nil = no default)
	Secret      bool        // Masked in listings
	Reloadable  bool        // Picked up by a running server when the file changes
	Validate    func(string) error
}

// EnvVar returns the environment variable that overrides k.
func (k Key) EnvVar() string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + "_" + strings.ToUpper(r.Replace(k.Key))
}

// Keys defines every configuration key c2d reads.
var Keys = []Key{
	{Key: "db", Description: "Path of the project directory holding the embedded database"},
	{Key: "actor", Description: "Actor name recorded on created operations and audit events"},
	{Key: "json", Description: "Emit JSON output", Default: false, Validate: validateBool},

	// Storage
	{Key: "storage.backend", Description: "Storage backend (memory or dolt)", Default: "dolt", Validate: validateBackend},
	{Key: "dolt.path", Description: "Embedded Dolt data directory (default <project>/.c2d/dolt)"},
	{Key: "dolt.server-mode", Description: "Connect to a running dolt sql-server instead of the embedded engine", Default: false, Validate: validateBool},
	{Key: "dolt.host", Description: "Dolt server hostname", Default: "127.0.0.1"},
	{Key: "dolt.port", Description: "Dolt server port", Default: 3307, Validate: validatePort},
	{Key: "dolt.user", Description: "Dolt username", Default: "root"},
	{Key: "dolt.password", Description: "Dolt password", Secret: true},
	{Key: "dolt.database", Description: "Dolt database name", Default: "c2d"},
	{Key: "dolt.dsn", Description: "Full MySQL DSN for server mode; overrides host, port, user and password", Secret: true},
	{Key: "dolt.open-timeout", Description: "How long to wait for the embedded database lock", Default: 30 * time.Second, Validate: validateDuration},
	{Key: "dolt.auto-commit", Description: "Create a Dolt commit after every write transaction", Default: false, Validate: validateBool},

	// Scheduler
	{Key: "scheduler.max-candidates", Description: "Default number of sorted candidates inspected per heartbeat", Default: 100, Reloadable: true, Validate: validatePositiveInt},
	{Key: "scheduler.max-graph-nodes", Description: "Dependency graph node cap per heartbeat (0 = unlimited)", Default: 5000, Reloadable: true, Validate: validateNonNegativeInt},
	{Key: "operations.initial-state", Description: "State of new operations that do not request one (NEW, READY or QUEUED)", Default: "QUEUED", Reloadable: true, Validate: validateInitialState},

	// Server
	{Key: "server.listen", Description: "HTTP listen address for c2d serve", Default: "127.0.0.1:8989", Validate: validateListenAddr},
	{Key: "server.shutdown-timeout", Description: "Grace period for in-flight requests on shutdown", Default: 10 * time.Second, Validate: validateDuration},

	// Logging and telemetry
	{Key: "log.level", Description: "Log level (debug, info, warn, error)", Default: "info", Validate: validateLogLevel},
	{Key: "log.format", Description: "Log format (text or json)", Default: "text", Validate: validateLogFormat},
	{Key: "telemetry.enabled", Description: "Enable OpenTelemetry metrics and traces", Default: false, Validate: validateBool},
	{Key: "telemetry.stdout", Description: "Write telemetry to stdout", Default: false, Validate: validateBool},
	{Key: "telemetry.otlp-endpoint", Description: "OTLP/HTTP metrics endpoint"},
}

// keyMap is a lookup table built from Keys.
var keyMap map[string]*Key

func init() {
	keyMap = make(map[string]*Key, len(Keys))
	for i := range Keys {
		keyMap[Keys[i].Key] = &Keys[i]
	}
}

// LookupKey returns the Key definition, or nil if key is unknown.
func LookupKey(key string) *Key {
	return keyMap[key]
}

// ValidateKey checks whether key is known and value is valid for it.
func ValidateKey(key, value string) error {
	k := keyMap[key]
	if k == nil {
		known := make([]string, 0, len(Keys))
		for _, k := range Keys {
			known = append(known, k.Key)
		}
		return fmt.Errorf("unknown config key %q; valid keys: %s", key, strings.Join(known, ", "))
	}
	if k.Validate != nil {
		if err := k.Validate(value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

// Validation helpers

func validatePort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validatePositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration like 30s, got %q", value)
	}
	return nil
}

func validateLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("must be one of: debug, info, warn, error; got %q", value)
	}
}

func validateLogFormat(value string) error {
	switch strings.ToLower(value) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("must be text or json, got %q", value)
	}
}

func validateBackend(value string) error {
	switch value {
	case "memory", "dolt":
		return nil
	default:
		return fmt.Errorf("must be memory or dolt, got %q", value)
	}
}

func validateInitialState(value string) error {
	switch strings.ToUpper(value) {
	case "NEW", "READY", "QUEUED":
		return nil
	default:
		return fmt.Errorf("must be NEW, READY or QUEUED, got %q", value)
	}
}

func validateListenAddr(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port, got %q", value)
	}
	return nil
}

func validateBool(value string) error {
	switch strings.ToLower(value) {
	case "true", "false", "1", "0", "yes", "no":
		return nil
	default:
		return fmt.Errorf("must be true or false, got %q", value)
	}
}
