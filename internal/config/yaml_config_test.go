package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// parseYaml decodes rewritten content for assertions that do not depend on
// the encoder's quoting choices.
func parseYaml(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &out); err != nil {
		t.Fatalf("rewritten yaml does not parse: %v\n%s", err, content)
	}
	return out
}

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
		value   string
		check   func(t *testing.T, got string, parsed map[string]interface{})
	}{
		{
			name:    "replace flat key",
			content: "scheduler.max-candidates: 100\nother: value\n",
			key:     "scheduler.max-candidates",
			value:   "25",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				if parsed["scheduler.max-candidates"] != 25 {
					t.Errorf("scheduler.max-candidates = %v, want 25", parsed["scheduler.max-candidates"])
				}
				if parsed["other"] != "value" {
					t.Errorf("other = %v, want value", parsed["other"])
				}
			},
		},
		{
			name:    "commented default is dropped",
			content: "# json: false\nother: value\n",
			key:     "json",
			value:   "true",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				if strings.Contains(got, "# json") {
					t.Errorf("commented key survived:\n%s", got)
				}
				if parsed["json"] != true {
					t.Errorf("json = %v, want true", parsed["json"])
				}
			},
		},
		{
			name:    "nested key replaced in place",
			content: "dolt:\n  host: a\n  port: 3307\n",
			key:     "dolt.host",
			value:   "db1",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				dolt, ok := parsed["dolt"].(map[string]interface{})
				if !ok {
					t.Fatalf("dolt is not a mapping:\n%s", got)
				}
				if dolt["host"] != "db1" || dolt["port"] != 3307 {
					t.Errorf("dolt = %v", dolt)
				}
				if _, flat := parsed["dolt.host"]; flat {
					t.Errorf("key should not be duplicated flat:\n%s", got)
				}
			},
		},
		{
			name:    "nested mapping receives new key",
			content: "dolt:\n  port: 3307\n",
			key:     "dolt.host",
			value:   "db1",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				dolt, _ := parsed["dolt"].(map[string]interface{})
				if dolt["host"] != "db1" {
					t.Errorf("dolt = %v", dolt)
				}
			},
		},
		{
			name:    "dot is a separator not a wildcard",
			content: "dolt_host: x\n",
			key:     "dolt.host",
			value:   "db1",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				if parsed["dolt_host"] != "x" || parsed["dolt.host"] != "db1" {
					t.Errorf("parsed = %v", parsed)
				}
			},
		},
		{
			name:    "string with colon survives",
			content: "other: value\n",
			key:     "server.listen",
			value:   "0.0.0.0:8989",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				if parsed["server.listen"] != "0.0.0.0:8989" {
					t.Errorf("server.listen = %v", parsed["server.listen"])
				}
			},
		},
		{
			name:    "line comments are kept",
			content: "other: value # keep me\nlog.level: info\n",
			key:     "log.level",
			value:   "debug",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				if !strings.Contains(got, "# keep me") {
					t.Errorf("comment lost:\n%s", got)
				}
				if parsed["log.level"] != "debug" {
					t.Errorf("log.level = %v", parsed["log.level"])
				}
			},
		},
		{
			name:    "comment only file",
			content: "# c2d configuration\n",
			key:     "log.level",
			value:   "debug",
			check: func(t *testing.T, got string, parsed map[string]interface{}) {
				if !strings.HasPrefix(got, "# c2d configuration\n") {
					t.Errorf("header comment lost:\n%s", got)
				}
				if parsed["log.level"] != "debug" {
					t.Errorf("log.level = %v", parsed["log.level"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := updateYamlKey(tt.content, tt.key, tt.value)
			if err != nil {
				t.Fatalf("updateYamlKey() error = %v", err)
			}
			tt.check(t, got, parseYaml(t, got))
		})
	}
}

func TestUpdateYamlKeyRejectsNonMapping(t *testing.T) {
	if _, err := updateYamlKey("- a\n- b\n", "json", "true"); err == nil {
		t.Error("expected error for a top-level sequence")
	}
}

func TestScalarNode(t *testing.T) {
	tests := []struct {
		value string
		tag   string
		want  string
	}{
		{"true", "!!bool", "true"},
		{"FALSE", "!!bool", "false"},
		{"123", "!!int", "123"},
		{"-7", "!!int", "-7"},
		{"3.14", "!!float", "3.14"},
		{"30s", "!!str", "30s"},
		{"QUEUED", "!!str", "QUEUED"},
		{"NaN", "!!str", "NaN"},
		{"has:colon", "!!str", "has:colon"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			n := scalarNode(tt.value)
			if n.Tag != tt.tag || n.Value != tt.want {
				t.Errorf("scalarNode(%q) = %s %q, want %s %q", tt.value, n.Tag, n.Value, tt.tag, tt.want)
			}
		})
	}
}

func TestSetYamlConfig(t *testing.T) {
	tmpDir := t.TempDir()
	c2dDir := filepath.Join(tmpDir, ProjectDirName)
	if err := os.MkdirAll(c2dDir, 0755); err != nil {
		t.Fatalf("Failed to create .c2d dir: %v", err)
	}

	configPath := filepath.Join(c2dDir, "config.yaml")
	initialConfig := `# c2d config
# scheduler.max-candidates: 100
other-setting: value
`
	if err := os.WriteFile(configPath, []byte(initialConfig), 0644); err != nil {
		t.Fatalf("Failed to write config.yaml: %v", err)
	}

	// Run from a subdirectory to exercise the upward search.
	sub := filepath.Join(tmpDir, "nested", "dir")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)

	written, err := SetYamlConfig("scheduler.max-candidates", "40")
	if err != nil {
		t.Fatalf("SetYamlConfig() error = %v", err)
	}
	if resolved, _ := filepath.EvalSymlinks(written); resolved != mustEval(t, configPath) {
		t.Errorf("SetYamlConfig wrote %s, want %s", written, configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config.yaml: %v", err)
	}
	contentStr := string(content)
	if !strings.Contains(contentStr, "scheduler.max-candidates: 40") {
		t.Errorf("config.yaml should contain 'scheduler.max-candidates: 40', got:\n%s", contentStr)
	}
	if strings.Contains(contentStr, "# scheduler.max-candidates") {
		t.Errorf("config.yaml should not have the commented key, got:\n%s", contentStr)
	}
	if !strings.Contains(contentStr, "other-setting: value") {
		t.Errorf("config.yaml should preserve other settings, got:\n%s", contentStr)
	}

	// The written value is what Initialize reads back.
	ResetForTesting()
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := GetInt("scheduler.max-candidates"); got != 40 {
		t.Errorf("GetInt(scheduler.max-candidates) = %d, want 40", got)
	}
}

func TestSetYamlConfigCreatesProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	written, err := SetYamlConfig("log.level", "debug")
	if err != nil {
		t.Fatalf("SetYamlConfig() error = %v", err)
	}
	content, err := os.ReadFile(written)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", written, err)
	}
	if !strings.Contains(string(content), "log.level: debug") {
		t.Errorf("unexpected config content:\n%s", content)
	}
}

func TestSetYamlConfigRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := SetYamlConfig("no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := SetYamlConfig("dolt.port", "99999"); err == nil {
		t.Error("expected error for out of range port")
	}
	if _, err := os.Stat(ProjectDirName); !os.IsNotExist(err) {
		t.Errorf("invalid set should not create %s", ProjectDirName)
	}
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
