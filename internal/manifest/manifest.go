// Package manifest loads operation plans: files that describe several
// operations and the order between them, applied atomically.
//
// Example plan.yaml:
//
//	agent: edge-07
//	operations:
//	  - key: stop
//	    operation: STOP
//	    operand: ingest
//	  - key: update
//	    operation: UPDATE
//	    operand: ingest
//	    args: {version: "2.4.1"}
//	    after: [stop]
//	  - operation: START
//	    operand: ingest
//	    after: [update, 0192f1e4-7c3a-7b21-9d4e-2f6b1a9c0e11]
//
// Entries of after name an earlier key in the same plan or the id of an
// operation that already exists. Naming a later key is an error, which keeps
// the dependency relation acyclic.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/types"
)

// Format is a plan file encoding.
type Format string

// Supported formats
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Plan is a list of operations to create together.
type Plan struct {
	// Agent is the default target for steps that do not name one.
	Agent string  `yaml:"agent,omitempty" toml:"agent,omitempty"`
	Steps []*Step `yaml:"operations" toml:"operations"`

	// Source is the file the plan was loaded from.
	Source string `yaml:"-" toml:"-"`
}

// Step is one operation of a plan.
type Step struct {
	Key       string            `yaml:"key,omitempty" toml:"key,omitempty"`
	Operation string            `yaml:"operation" toml:"operation"`
	Operand   string            `yaml:"operand,omitempty" toml:"operand,omitempty"`
	Args      map[string]string `yaml:"args,omitempty" toml:"args,omitempty"`
	Agent     string            `yaml:"agent,omitempty" toml:"agent,omitempty"`
	State     string            `yaml:"state,omitempty" toml:"state,omitempty"`
	After     []string          `yaml:"after,omitempty" toml:"after,omitempty"`
}

// label names the step in error messages.
func (s *Step) label(i int) string {
	if s.Key != "" {
		return fmt.Sprintf("operation %d (%s)", i, s.Key)
	}
	return fmt.Sprintf("operation %d", i)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: unsupported plan file %q (want .yaml, .yml or .toml)", types.ErrValidation, path)
}

// ParseFile reads and parses a plan file.
func ParseFile(path string) (*Plan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is an explicit user argument
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	plan, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	plan.Source = path
	return plan, nil
}

// Parse decodes a plan.
func Parse(data []byte, format Format) (*Plan, error) {
	var plan Plan
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", types.ErrValidation, err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &plan); err != nil {
			return nil, fmt.Errorf("%w: toml: %w", types.ErrValidation, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown plan format %q", types.ErrValidation, format)
	}
	return &plan, nil
}

// Requests resolves the plan into a CreateOperations batch. Keys become
// batch indices; anything else in after is taken as an existing operation id,
// whose existence the service checks when the batch is stored.
func (p *Plan) Requests() ([]scheduler.CreateRequest, error) {
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no operations", types.ErrValidation)
	}

	keys := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step == nil {
			return nil, fmt.Errorf("%w: operation %d is empty", types.ErrValidation, i)
		}
		key := strings.TrimSpace(step.Key)
		if key == "" {
			continue
		}
		if j, dup := keys[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q (operations %d and %d)", types.ErrValidation, key, j, i)
		}
		keys[key] = i
	}

	reqs := make([]scheduler.CreateRequest, len(p.Steps))
	for i, step := range p.Steps {
		agent := step.Agent
		if agent == "" {
			agent = p.Agent
		}
		op := &types.Operation{
			Operation:     types.OperationType(step.Operation),
			Operand:       step.Operand,
			Args:          step.Args,
			TargetAgentID: agent,
		}
		if step.State != "" {
			state, err := types.ParseOperationState(step.State)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", step.label(i), err)
			}
			op.State = state
		}

		req := scheduler.CreateRequest{Operation: op}
		for _, ref := range step.After {
			ref = strings.TrimSpace(ref)
			if ref == "" {
				continue
			}
			j, isKey := keys[ref]
			switch {
			case !isKey:
				op.Dependencies = append(op.Dependencies, ref)
			case j == i:
				return nil, fmt.Errorf("%w: %s cannot run after itself", types.ErrValidation, step.label(i))
			case j > i:
				return nil, fmt.Errorf("%w: %s runs after %q, which is declared later", types.ErrValidation, step.label(i), ref)
			default:
				req.After = append(req.After, j)
			}
		}
		reqs[i] = req
	}
	return reqs, nil
}

// Keys returns the step keys in plan order, "" for unkeyed steps.
func (p *Plan) Keys() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		if s != nil {
			out[i] = strings.TrimSpace(s.Key)
		}
	}
	return out
}
