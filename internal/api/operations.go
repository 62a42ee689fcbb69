package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/edgefleet/c2d/internal/scheduler"
	"github.com/edgefleet/c2d/internal/types"
)

// createItem is one operation in a create request. Server-assigned fields of
// types.Operation are not accepted.
type createItem struct {
	Operation     types.OperationType  `json:"operation"`
	Operand       string               `json:"operand,omitempty"`
	Args          map[string]string    `json:"args,omitempty"`
	Dependencies  []string             `json:"dependencies,omitempty"`
	TargetAgentID string               `json:"targetAgentId"`
	State         types.OperationState `json:"state,omitempty"`
	// After lists indices of earlier items in a batch request.
	After []int `json:"after,omitempty"`
}

func (c createItem) request() scheduler.CreateRequest {
	return scheduler.CreateRequest{
		Operation: &types.Operation{
			Operation:     c.Operation,
			Operand:       c.Operand,
			Args:          c.Args,
			Dependencies:  c.Dependencies,
			TargetAgentID: c.TargetAgentID,
			State:         c.State,
		},
		After: c.After,
	}
}

type stateRequest struct {
	State string `json:"state"`
}

// handleCreateOperation accepts one operation object, or an array of them
// stored atomically where "after" refers to earlier array positions.
func (s *server) handleCreateOperation(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid operation", err.Error())
		return
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []createItem
		if err := strictUnmarshal(trimmed, &items); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid operations", err.Error())
			return
		}
		reqs := make([]scheduler.CreateRequest, len(items))
		for i, it := range items {
			reqs[i] = it.request()
		}
		ops, err := s.svc.CreateOperations(r.Context(), reqs, s.actor)
		if err != nil {
			writeServiceError(w, s.log(r), "create operations failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, ops)
		return
	}

	var item createItem
	if err := strictUnmarshal(trimmed, &item); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid operation", err.Error())
		return
	}
	if len(item.After) > 0 {
		WriteJSONError(w, http.StatusBadRequest, "invalid operation", "after is only valid in a batch request")
		return
	}
	op, err := s.svc.CreateOperation(r.Context(), item.request().Operation, s.actor)
	if err != nil {
		writeServiceError(w, s.log(r), "create operation failed", err)
		return
	}
	w.Header().Set("Location", "/api/operations/"+op.ID)
	writeJSON(w, http.StatusCreated, op)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.OperationFilter{TargetAgentID: strings.TrimSpace(q.Get("agent"))}
	if raw := strings.TrimSpace(q.Get("state")); raw != "" {
		state, err := types.ParseOperationState(raw)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid state", err.Error())
			return
		}
		filter.State = state
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	filter.Limit = limit

	ops, err := s.svc.GetOperations(r.Context(), filter)
	if err != nil {
		writeServiceError(w, s.log(r), "list operations failed", err)
		return
	}
	if ops == nil {
		ops = []*types.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.svc.GetOperation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.log(r), "get operation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid state update", err.Error())
		return
	}
	state, err := types.ParseOperationState(req.State)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid state update", err.Error())
		return
	}
	op, err := s.svc.UpdateOperationState(r.Context(), r.PathValue("id"), state, s.actor)
	if err != nil {
		writeServiceError(w, s.log(r), "update state failed", err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *server) handleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteOperation(r.Context(), r.PathValue("id"), s.actor); err != nil {
		writeServiceError(w, s.log(r), "delete operation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}
