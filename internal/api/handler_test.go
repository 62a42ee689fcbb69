package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/c2d/internal/logging"
	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/storage/memory"
	"github.com/edgefleet/c2d/internal/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *scheduler.Service) {
	t.Helper()
	store := memory.New()
	var tick, seq atomic.Int64
	svc, err := scheduler.New(store, logging.Discard(), scheduler.Limits{},
		scheduler.WithClock(func() time.Time {
			return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
		}),
		scheduler.WithIDGenerator(func() string {
			return fmt.Sprintf("op-%04d", seq.Add(1))
		}),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(Config{
		Service: svc,
		Logger:  logging.Discard(),
		Actor:   "admin",
		Now:     func() time.Time { return base.Add(time.Minute) },
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close()
	})
	return srv, svc
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

// createChain stores a <- b <- c for agent-x and returns their ids.
func createChain(t *testing.T, srv *httptest.Server) []string {
	t.Helper()
	code, body := do(t, srv, http.MethodPost, "/api/operations", `[
		{"operation": "STOP", "operand": "flow", "targetAgentId": "agent-x"},
		{"operation": "UPDATE", "operand": "flow", "targetAgentId": "agent-x", "args": {"version": "2"}, "after": [0]},
		{"operation": "START", "operand": "flow", "targetAgentId": "agent-x", "after": [1]}
	]`)
	require.Equal(t, http.StatusCreated, code, string(body))
	ops := decode[[]types.Operation](t, body)
	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.Equal(t, "admin", op.CreatedBy)
		assert.Equal(t, types.StateQueued, op.State)
	}
	return []string{ops[0].ID, ops[1].ID, ops[2].ID}
}

func heartbeat(t *testing.T, srv *httptest.Server, agent string, max int) HeartbeatResponse {
	t.Helper()
	code, body := do(t, srv, http.MethodPost, "/api/heartbeat",
		fmt.Sprintf(`{"agentId": %q, "maxOperations": %d}`, agent, max))
	require.Equal(t, http.StatusOK, code, string(body))
	return decode[HeartbeatResponse](t, body)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHeartbeatDispatchesChain(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := createChain(t, srv)

	resp := heartbeat(t, srv, "agent-x", 10)
	require.Len(t, resp.RequestedOperations, 3)
	assert.Equal(t, ids[0], resp.RequestedOperations[0].Identifier)
	assert.Equal(t, []string{}, resp.RequestedOperations[0].Dependencies)
	assert.Equal(t, []string{ids[0]}, resp.RequestedOperations[1].Dependencies)
	assert.Equal(t, map[string]string{"version": "2"}, resp.RequestedOperations[1].Args)
	assert.Equal(t, []string{ids[1]}, resp.RequestedOperations[2].Dependencies)

	// maxOperations bounds the batch.
	assert.Len(t, heartbeat(t, srv, "agent-x", 2).RequestedOperations, 2)

	// Another agent gets an empty list, not null.
	code, body := do(t, srv, http.MethodPost, "/api/heartbeat", `{"agentId": "agent-y"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"requestedOperations": []}`, string(body))
}

func TestHeartbeatRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, body := range []string{
		`not json`,
		`{"agentId": ""}`,
		`{"agentId": "a", "maxOperations": -1}`,
		`{"agentId": "a", "unexpected": true}`,
	} {
		code, resp := do(t, srv, http.MethodPost, "/api/heartbeat", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Contains(t, string(resp), `"error"`)
	}
}

func TestAcknowledgeAdvancesBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := createChain(t, srv)

	code, body := do(t, srv, http.MethodPost, "/api/acknowledge",
		fmt.Sprintf(`{"agentId": "agent-x", "operationId": %q, "state": "done"}`, ids[0]))
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, types.StateDone, decode[types.Operation](t, body).State)

	resp := heartbeat(t, srv, "agent-x", 10)
	require.Len(t, resp.RequestedOperations, 2)
	assert.Equal(t, ids[1], resp.RequestedOperations[0].Identifier)
	assert.Empty(t, resp.RequestedOperations[0].Dependencies)

	// The acknowledging agent must be the target.
	code, _ = do(t, srv, http.MethodPost, "/api/acknowledge",
		fmt.Sprintf(`{"agentId": "agent-y", "operationId": %q, "state": "DONE"}`, ids[1]))
	assert.Equal(t, http.StatusBadRequest, code)

	// DONE is terminal.
	code, _ = do(t, srv, http.MethodPost, "/api/acknowledge",
		fmt.Sprintf(`{"operationId": %q, "state": "QUEUED"}`, ids[0]))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, http.MethodPost, "/api/acknowledge", `{"operationId": "nope", "state": "DONE"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, http.MethodPost, "/api/acknowledge", `{"operationId": "nope", "state": "LATER"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateStateCascades(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := createChain(t, srv)

	code, body := do(t, srv, http.MethodPut, "/api/operations/"+ids[0]+"/state", `{"state": "FAILED"}`)
	require.Equal(t, http.StatusOK, code, string(body))

	for _, id := range ids[1:] {
		code, body := do(t, srv, http.MethodGet, "/api/operations/"+id, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, types.StateCancelled, decode[types.Operation](t, body).State)
	}

	code, body = do(t, srv, http.MethodGet, "/api/events?ref="+ids[0], "")
	require.Equal(t, http.StatusOK, code)
	events := decode[[]types.Event](t, body)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventOperationStateChanged, events[1].EventType)
	assert.Equal(t, "admin", events[1].Actor)
}

func TestOperationCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := createChain(t, srv)

	code, body := do(t, srv, http.MethodPost, "/api/operations",
		`{"operation": "describe", "targetAgentId": "agent-y", "state": "NEW"}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	created := decode[types.Operation](t, body)
	assert.Equal(t, types.OpDescribe, created.Operation)
	assert.Equal(t, types.StateNew, created.State)

	code, body = do(t, srv, http.MethodGet, "/api/operations?agent=agent-x&state=queued&limit=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]types.Operation](t, body), 2)

	code, _ = do(t, srv, http.MethodGet, "/api/operations?state=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv, http.MethodGet, "/api/operations?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, http.MethodGet, "/api/operations/missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	// Referenced operations cannot be deleted.
	code, body = do(t, srv, http.MethodDelete, "/api/operations/"+ids[0], "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), ids[1])

	code, _ = do(t, srv, http.MethodDelete, "/api/operations/"+ids[2], "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, srv, http.MethodDelete, "/api/operations/"+ids[2], "")
	assert.Equal(t, http.StatusNotFound, code)

	// Unknown dependency and a single-object "after" are client errors.
	code, _ = do(t, srv, http.MethodPost, "/api/operations",
		`{"operation": "START", "targetAgentId": "a", "dependencies": ["ghost"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv, http.MethodPost, "/api/operations",
		`{"operation": "START", "targetAgentId": "a", "after": [0]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv, http.MethodPost, "/api/operations",
		`{"operation": "START", "targetAgentId": "a", "id": "mine"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, srv, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, code)
	stats := decode[map[string]map[types.OperationState]int](t, body)
	assert.Equal(t, 2, stats["operations"][types.StateQueued])
	assert.Equal(t, 1, stats["operations"][types.StateNew])
}

func TestEventsSince(t *testing.T) {
	srv, _ := newTestServer(t)
	createChain(t, srv)

	code, body := do(t, srv, http.MethodGet, "/api/events?since=1h", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]types.Event](t, body), 3)

	// The handler clock is one minute after the events were written.
	code, body = do(t, srv, http.MethodGet, "/api/events?since=30s", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, body = do(t, srv, http.MethodGet, "/api/events?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]types.Event](t, body), 1)

	code, _ = do(t, srv, http.MethodGet, "/api/events?since=whenever", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

type failingService struct {
	Service
}

func (failingService) SelectBatch(context.Context, string, int) ([]types.C2Operation, error) {
	return nil, errors.New("database is down")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	h := NewHandler(Config{Service: failingService{}, Logger: logging.Discard()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", strings.NewReader(`{"agentId": "a"}`))
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database is down")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	code, _ := do(t, srv, http.MethodGet, "/api/heartbeat", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(fmt.Errorf("x: %w", types.ErrValidation)))
	assert.Equal(t, http.StatusBadRequest, StatusFor(scheduler.ErrInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
