package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/engine"
	"github.com/snarg/memo-engine/internal/worker"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// WriteEngineError maps engine and pipeline errors to HTTP statuses. A
// stopped pipeline is reported as 503 since it never restarts.
func WriteEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, worker.ErrDisconnected):
		WriteErrorDetail(w, http.StatusServiceUnavailable, "pipeline unavailable", err.Error())
	case errors.Is(err, engine.ErrEmptyID):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// QueryStringList extracts a comma-separated list of strings from a query param.
func QueryStringList(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
