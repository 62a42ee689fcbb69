package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/edgefleet/c2d/internal/scheduler"
)

// jsonErrorResponse is the body of every error response.
type jsonErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError writes an error response encoded as JSON with the given status.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	payload := jsonErrorResponse{Error: strings.TrimSpace(message)}
	if detail := strings.TrimSpace(details); detail != "" {
		payload.Details = detail
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case scheduler.IsNotFound(err):
		return http.StatusNotFound
	case scheduler.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status from StatusFor. Internal
// errors are logged and their text is not sent to the client.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, message string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(message, "error", err)
		WriteJSONError(w, status, message, "internal error")
		return
	}
	WriteJSONError(w, status, message, err.Error())
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close() // nolint:errcheck
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	return nil
}

const maxBodyBytes = 1 << 20
