package server

import (
	"encoding/json"
	"net/http"

	"github.com/assistd/assistd/internal/tool"
)

// invalidRequestBody is the 400 response for a rejected chat request.
type invalidRequestBody struct {
	Error   string                `json:"error"`
	Details []tool.FieldViolation `json:"details"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeInvalidRequest writes the 400 body listing every violation.
func writeInvalidRequest(w http.ResponseWriter, violations []tool.FieldViolation) {
	writeJSON(w, http.StatusBadRequest, invalidRequestBody{
		Error:   "Invalid request",
		Details: violations,
	})
}

// writeInternalError writes a plain-text 500. Detail stays in the logs.
func writeInternalError(w http.ResponseWriter) {
	http.Error(w, "internal error", http.StatusInternalServerError)
}
