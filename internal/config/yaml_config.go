package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SetYamlConfig validates and writes one key to the nearest project
// config.yaml, creating .c2d/config.yaml in the working directory when there
// is none. It returns the path written.
func SetYamlConfig(key, value string) (string, error) {
	if err := ValidateKey(key, value); err != nil {
		return "", err
	}

	configPath, err := findProjectConfigYaml()
	if err != nil {
		configPath, err = createProjectConfigYaml()
		if err != nil {
			return "", err
		}
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from findProjectConfigYaml
	if err != nil {
		return "", fmt.Errorf("failed to read config.yaml: %w", err)
	}

	newContent, err := updateYamlKey(string(content), key, value)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(configPath, []byte(newContent), 0600); err != nil { //nolint:gosec // configPath is validated
		return "", fmt.Errorf("failed to write config.yaml: %w", err)
	}

	return configPath, nil
}

// findProjectConfigYaml finds the project's .c2d/config.yaml file.
func findProjectConfigYaml() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	// Walk up parent directories to find .c2d/config.yaml
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, ProjectDirName, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", fmt.Errorf("no %s/config.yaml found", ProjectDirName)
}

func createProjectConfigYaml() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	dir := filepath.Join(cwd, ProjectDirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("# c2d configuration\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to create config.yaml: %w", err)
	}
	return configPath, nil
}

// updateYamlKey sets key to value in yaml content. The key may appear flat
// ("dolt.host: x") or nested under its first segment ("dolt:\n  host: x");
// an existing entry is replaced in place, otherwise the key is added flat at
// the end. A commented-out default for the key is dropped so the file does not
// show two values. Other comments survive the rewrite.
func updateYamlKey(content, key, value string) (string, error) {
	content = dropCommentedKey(content, key)

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return "", fmt.Errorf("failed to parse config.yaml: %w", err)
	}

	var root *yaml.Node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
		root = doc.Content[0]
	}
	if root == nil {
		if !onlyComments(content) {
			return "", fmt.Errorf("config.yaml must contain a mapping at the top level")
		}
		// Nothing but comments: keep them and append a fresh mapping.
		fresh := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{keyNode(key), scalarNode(value)}}
		out, err := encodeYaml(fresh)
		if err != nil {
			return "", err
		}
		prefix := strings.TrimRight(content, "\n")
		if prefix != "" {
			prefix += "\n"
		}
		return prefix + out, nil
	}

	if !setMappingKey(root, key, scalarNode(value)) {
		root.Content = append(root.Content, keyNode(key), scalarNode(value))
	}
	return encodeYaml(&doc)
}

// setMappingKey replaces key in m, descending into a nested mapping named by
// the key's first segment. It reports whether the key was placed.
func setMappingKey(m *yaml.Node, key string, value *yaml.Node) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			value.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = value
			return true
		}
	}
	head, rest, ok := strings.Cut(key, ".")
	if !ok {
		return false
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != head || m.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		nested := m.Content[i+1]
		if !setMappingKey(nested, rest, value) {
			nested.Content = append(nested.Content, keyNode(rest), value)
		}
		return true
	}
	return false
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

// scalarNode tags value so booleans and numbers are written unquoted and
// everything else is written as a string.
func scalarNode(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	lower := strings.ToLower(value)
	switch {
	case lower == "true" || lower == "false":
		n.Tag, n.Value = "!!bool", lower
	case isInt(value):
		n.Tag = "!!int"
	case isFloat(value):
		n.Tag = "!!float"
	}
	return n
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && !strings.ContainsAny(s, "xXpPnN")
}

func encodeYaml(n *yaml.Node) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return "", fmt.Errorf("failed to encode config.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config.yaml: %w", err)
	}
	return buf.String(), nil
}

// dropCommentedKey removes lines of the form "# key: value".
func dropCommentedKey(content, key string) string {
	pattern := regexp.MustCompile(`^\s*#\s*` + regexp.QuoteMeta(key) + `\s*:`)
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !pattern.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func onlyComments(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return false
		}
	}
	return true
}
