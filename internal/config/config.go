// Package config loads c2d settings with viper.
//
// Precedence, lowest first: defaults, config file, C2D_* environment
// variables, then values bound from command-line flags or set with Set.
//
// The config file is the nearest .c2d/config.yaml walking up from the working
// directory, else $XDG_CONFIG_HOME/c2d/config.yaml, else
// ~/.config/c2d/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProjectDirName is the per-project directory holding config.yaml and the
// embedded database.
const ProjectDirName = ".c2d"

// EnvPrefix prefixes every environment override: scheduler.max-candidates
// becomes C2D_SCHEDULER_MAX_CANDIDATES.
const EnvPrefix = "C2D"

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	for _, k := range Keys {
		if k.Default != nil {
			v.SetDefault(k.Key, k.Default)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns the config file to load, or "" when there is none.
func findConfigFile() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from %s_CONFIG: %w", EnvPrefix, err)
		}
		return p, nil
	}

	if p, err := findProjectConfigYaml(); err == nil {
		return p, nil
	}

	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "c2d", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "c2d", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", nil
}

// ConfigFileUsed returns the loaded config file path, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// BindFlag makes key follow a command-line flag when the flag is set.
func BindFlag(key string, flag *pflag.Flag) error {
	if v == nil || flag == nil {
		return nil
	}
	return v.BindPFlag(key, flag)
}

// WatchConfig calls onChange after the config file is rewritten. It does
// nothing when no config file was loaded.
func WatchConfig(onChange func(fsnotify.Event)) bool {
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(onChange)
	v.WatchConfig()
	return true
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// IsSet reports whether key has a value from any source other than defaults.
func IsSet(key string) bool {
	if v == nil {
		return false
	}
	return v.IsSet(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns every known key with its effective value.
func AllSettings() map[string]interface{} {
	out := make(map[string]interface{}, len(Keys))
	if v == nil {
		return out
	}
	for _, k := range Keys {
		if k.Secret {
			if v.GetString(k.Key) != "" {
				out[k.Key] = "********"
			}
			continue
		}
		out[k.Key] = v.Get(k.Key)
	}
	return out
}

// ResetForTesting clears the singleton so the next Initialize starts fresh.
func ResetForTesting() {
	v = nil
}
