package api

import (
	"net/http"
	"strings"

	"github.com/edgefleet/c2d/internal/timeparsing"
	"github.com/edgefleet/c2d/internal/types"
)

// handleEvents lists the audit trail. Query parameters: ref (operation id),
// since (compact duration like 6h, a date, or "yesterday") and limit.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.EventFilter{DetailRef: strings.TrimSpace(q.Get("ref"))}
	if since := strings.TrimSpace(q.Get("since")); since != "" {
		t, err := timeparsing.ParseSince(since, s.now())
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid since", err.Error())
			return
		}
		filter.Since = t
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	filter.Limit = limit

	events, err := s.svc.Events(r.Context(), filter)
	if err != nil {
		writeServiceError(w, s.log(r), "list events failed", err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
