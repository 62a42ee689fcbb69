package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/edgefleet/c2d/internal/types"
)

// HeartbeatRequest is sent periodically by every agent.
type HeartbeatRequest struct {
	AgentID string `json:"agentId"`
	// MaxOperations bounds the batch; zero uses the server default.
	MaxOperations int `json:"maxOperations,omitempty"`
}

// HeartbeatResponse carries the operations the agent should run, in order.
type HeartbeatResponse struct {
	RequestedOperations []types.C2Operation `json:"requestedOperations"`
}

// AcknowledgeRequest reports the outcome of one dispatched operation.
type AcknowledgeRequest struct {
	AgentID     string `json:"agentId,omitempty"`
	OperationID string `json:"operationId"`
	State       string `json:"state"`
}

func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid heartbeat", err.Error())
		return
	}
	if req.MaxOperations < 0 {
		WriteJSONError(w, http.StatusBadRequest, "invalid heartbeat", "maxOperations must not be negative")
		return
	}

	batch, err := s.svc.SelectBatch(r.Context(), req.AgentID, req.MaxOperations)
	if err != nil {
		writeServiceError(w, s.log(r), "heartbeat failed", err)
		return
	}
	if batch == nil {
		batch = []types.C2Operation{}
	}
	writeJSON(w, http.StatusOK, HeartbeatResponse{RequestedOperations: batch})
}

func (s *server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid acknowledgement", err.Error())
		return
	}
	state, err := types.ParseOperationState(req.State)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid acknowledgement", err.Error())
		return
	}

	actor := s.actor
	if agent := strings.TrimSpace(req.AgentID); agent != "" {
		op, err := s.svc.GetOperation(r.Context(), req.OperationID)
		if err != nil {
			writeServiceError(w, s.log(r), "acknowledge failed", err)
			return
		}
		if op.TargetAgentID != agent {
			WriteJSONError(w, http.StatusBadRequest, "acknowledge failed",
				fmt.Sprintf("operation %s does not target agent %s", op.ID, agent))
			return
		}
		actor = "agent:" + agent
	}

	op, err := s.svc.UpdateOperationState(r.Context(), req.OperationID, state, actor)
	if err != nil {
		writeServiceError(w, s.log(r), "acknowledge failed", err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
