package handler

import (
	"net/http"
	"time"
)

// HandleHealth is the liveness probe.
//
// HTTP: GET /health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "CodeSnip API is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
