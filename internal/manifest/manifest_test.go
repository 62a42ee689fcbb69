package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/logging"
	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/storage/memory"
	"github.com/edgefleet/c2d/internal/types"
)

const yamlPlan = `
agent: edge-07
operations:
  - key: stop
    operation: STOP
    operand: ingest
  - key: update
    operation: update
    operand: ingest
    args:
      version: "2.4.1"
    after: [stop]
  - operation: START
    operand: ingest
    agent: edge-08
    state: NEW
    after: [update, stop]
`

const tomlPlan = `
agent = "edge-07"

[[operations]]
key = "stop"
operation = "STOP"
operand = "ingest"

[[operations]]
key = "update"
operation = "UPDATE"
operand = "ingest"
after = ["stop"]

  [operations.args]
  version = "2.4.1"

[[operations]]
operation = "START"
operand = "ingest"
agent = "edge-08"
state = "NEW"
after = ["update", "stop"]
`

func TestParseFormats(t *testing.T) {
	for _, tc := range []struct {
		name   string
		data   string
		format Format
	}{
		{"yaml", yamlPlan, FormatYAML},
		{"toml", tomlPlan, FormatTOML},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Parse([]byte(tc.data), tc.format)
			require.NoError(t, err)
			require.Len(t, plan.Steps, 3)
			assert.Equal(t, "edge-07", plan.Agent)
			assert.Equal(t, []string{"stop", "update", ""}, plan.Keys())
			assert.Equal(t, map[string]string{"version": "2.4.1"}, plan.Steps[1].Args)

			reqs, err := plan.Requests()
			require.NoError(t, err)
			require.Len(t, reqs, 3)
			assert.Empty(t, reqs[0].After)
			assert.Equal(t, []int{0}, reqs[1].After)
			assert.Equal(t, []int{1, 0}, reqs[2].After)
			assert.Equal(t, "edge-07", reqs[1].Operation.TargetAgentID)
			assert.Equal(t, "edge-08", reqs[2].Operation.TargetAgentID)
			assert.Equal(t, types.StateNew, reqs[2].Operation.State)
			assert.Empty(t, reqs[1].Operation.State)
		})
	}
}

func TestRequestsRejectsBadReferences(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		want string
	}{
		{
			name: "forward reference",
			plan: Plan{Agent: "a", Steps: []*Step{
				{Key: "one", Operation: "START", After: []string{"two"}},
				{Key: "two", Operation: "START"},
			}},
			want: "declared later",
		},
		{
			name: "self reference",
			plan: Plan{Agent: "a", Steps: []*Step{{Key: "one", Operation: "START", After: []string{"one"}}}},
			want: "after itself",
		},
		{
			name: "duplicate key",
			plan: Plan{Agent: "a", Steps: []*Step{{Key: "one", Operation: "START"}, {Key: "one", Operation: "STOP"}}},
			want: "duplicate key",
		},
		{
			name: "bad state",
			plan: Plan{Agent: "a", Steps: []*Step{{Operation: "START", State: "LATER"}}},
			want: "invalid state",
		},
		{
			name: "empty",
			plan: Plan{},
			want: "no operations",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.plan.Requests()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnknownReferenceIsExistingID(t *testing.T) {
	plan := Plan{Agent: "a", Steps: []*Step{{Operation: "START", After: []string{" op-1 ", ""}}}}
	reqs, err := plan.Requests()
	require.NoError(t, err)
	assert.Equal(t, []string{"op-1"}, reqs[0].Operation.Dependencies)
	assert.Empty(t, reqs[0].After)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("plan.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	f, err = FormatFromPath("dir/plan.toml")
	require.NoError(t, err)
	assert.Equal(t, FormatTOML, f)
	_, err = FormatFromPath("plan.json")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestParseInvalidInput(t *testing.T) {
	_, err := Parse([]byte("operations: [\n"), FormatYAML)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = Parse([]byte("[[operations]\n"), FormatTOML)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestApplyPlan(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc, err := scheduler.New(store, logging.Discard(), scheduler.Limits{})
	require.NoError(t, err)

	existing, err := svc.CreateOperation(ctx, &types.Operation{Operation: types.OpDescribe, TargetAgentID: "edge-07"}, "test")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := yamlPlan + "  - operation: SYNC\n    after: [" + existing.ID + "]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	plan, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, plan.Source)
	reqs, err := plan.Requests()
	require.NoError(t, err)

	ops, err := svc.CreateOperations(ctx, reqs, "test")
	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, []string{ops[0].ID}, ops[1].Dependencies)
	assert.ElementsMatch(t, []string{ops[0].ID, ops[1].ID}, ops[2].Dependencies)
	assert.Equal(t, []string{existing.ID}, ops[3].Dependencies)
	assert.Equal(t, types.StateNew, ops[2].State)
	assert.Equal(t, types.StateQueued, ops[0].State)

	// A dangling id fails the whole plan.
	bad := Plan{Agent: "edge-07", Steps: []*Step{
		{Operation: "START"},
		{Operation: "STOP", After: []string{"no-such-op"}},
	}}
	reqs, err = bad.Requests()
	require.NoError(t, err)
	_, err = svc.CreateOperations(ctx, reqs, "test")
	assert.ErrorIs(t, err, scheduler.ErrUnknownDependency)

	all, err := svc.GetOperations(ctx, types.OperationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
