package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	ResetForTesting()
	require.NoError(t, Initialize())

	assert.Equal(t, 100, GetInt("scheduler.max-candidates"))
	assert.Equal(t, 5000, GetInt("scheduler.max-graph-nodes"))
	assert.Equal(t, "QUEUED", GetString("operations.initial-state"))
	assert.Equal(t, "127.0.0.1:8989", GetString("server.listen"))
	assert.Equal(t, "dolt", GetString("storage.backend"))
	assert.Equal(t, 30*time.Second, GetDuration("dolt.open-timeout"))
	assert.False(t, GetBool("json"))
	assert.Empty(t, GetString("actor"))
	assert.Empty(t, ConfigFileUsed())
}

func TestUninitialized(t *testing.T) {
	ResetForTesting()
	assert.Empty(t, GetString("actor"))
	assert.Zero(t, GetInt("scheduler.max-candidates"))
	assert.False(t, GetBool("json"))
	assert.False(t, WatchConfig(func(fsnotify.Event) {}))
	Set("actor", "ignored")
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"C2D_JSON", "json", "true", true, func(k string) interface{} { return GetBool(k) }},
		{"C2D_ACTOR", "actor", "ops-bot", "ops-bot", func(k string) interface{} { return GetString(k) }},
		{"C2D_SCHEDULER_MAX_CANDIDATES", "scheduler.max-candidates", "12", 12, func(k string) interface{} { return GetInt(k) }},
		{"C2D_DOLT_OPEN_TIMEOUT", "dolt.open-timeout", "5s", 5 * time.Second, func(k string) interface{} { return GetDuration(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)
			ResetForTesting()
			require.NoError(t, Initialize())
			assert.Equal(t, tt.expected, tt.getter(tt.key))
		})
	}
}

func writeProjectConfig(t *testing.T, dir, content string) string {
	t.Helper()
	c2dDir := filepath.Join(dir, ProjectDirName)
	require.NoError(t, os.MkdirAll(c2dDir, 0750))
	p := filepath.Join(c2dDir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeProjectConfig(t, tmpDir, `
actor: configuser
scheduler:
  max-candidates: 25
dolt.open-timeout: 15s
`)
	t.Chdir(tmpDir)

	ResetForTesting()
	require.NoError(t, Initialize())
	assert.Equal(t, "configuser", GetString("actor"))
	assert.Equal(t, 25, GetInt("scheduler.max-candidates"))
	assert.Equal(t, 15*time.Second, GetDuration("dolt.open-timeout"))
	assert.NotEmpty(t, ConfigFileUsed())
	assert.True(t, IsSet("actor"))
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	writeProjectConfig(t, tmpDir, "actor: from-file\n")
	t.Chdir(tmpDir)

	ResetForTesting()
	require.NoError(t, Initialize())
	assert.Equal(t, "from-file", GetString("actor"))

	t.Setenv("C2D_ACTOR", "from-env")
	ResetForTesting()
	require.NoError(t, Initialize())
	assert.Equal(t, "from-env", GetString("actor"))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("actor", "", "")
	require.NoError(t, flags.Parse([]string{"--actor", "from-flag"}))
	require.NoError(t, BindFlag("actor", flags.Lookup("actor")))
	assert.Equal(t, "from-flag", GetString("actor"))

	Set("actor", "explicit")
	assert.Equal(t, "explicit", GetString("actor"))
}

func TestXDGConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "c2d"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "c2d", "config.yaml"), []byte("log.level: debug\n"), 0600))

	ResetForTesting()
	require.NoError(t, Initialize())
	assert.Equal(t, "debug", GetString("log.level"))
}

func TestExplicitConfigPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c2d.yaml")
	require.NoError(t, os.WriteFile(p, []byte("server.listen: \"0.0.0.0:9000\"\n"), 0600))
	t.Setenv("C2D_CONFIG", p)

	ResetForTesting()
	require.NoError(t, Initialize())
	assert.Equal(t, "0.0.0.0:9000", GetString("server.listen"))

	t.Setenv("C2D_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	ResetForTesting()
	assert.Error(t, Initialize())
}

func TestAllSettingsMasksSecrets(t *testing.T) {
	t.Setenv("C2D_DOLT_PASSWORD", "hunter2")
	ResetForTesting()
	require.NoError(t, Initialize())

	all := AllSettings()
	assert.Equal(t, "********", all["dolt.password"])
	_, hasDSN := all["dolt.dsn"]
	assert.False(t, hasDSN)
	assert.Equal(t, 100, all["scheduler.max-candidates"])
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key, value string
		ok         bool
	}{
		{"scheduler.max-candidates", "10", true},
		{"scheduler.max-candidates", "0", false},
		{"scheduler.max-graph-nodes", "0", true},
		{"scheduler.max-graph-nodes", "-1", false},
		{"operations.initial-state", "new", true},
		{"operations.initial-state", "DONE", false},
		{"server.listen", ":8080", true},
		{"server.listen", "8080", false},
		{"storage.backend", "sqlite", false},
		{"log.format", "json", true},
		{"bogus", "x", false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key, tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s=%s", tt.key, tt.value)
		} else {
			assert.Error(t, err, "%s=%s", tt.key, tt.value)
		}
	}
	assert.Equal(t, "C2D_SCHEDULER_MAX_CANDIDATES", LookupKey("scheduler.max-candidates").EnvVar())
	assert.Nil(t, LookupKey("bogus"))
}
