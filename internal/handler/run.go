package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/codesnip/internal/service"
)

// RunHandler executes a stored snippet in the sandbox.
type RunHandler struct {
	runs   *service.RunService
	logger *slog.Logger
}

func NewRunHandler(runs *service.RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

// HandleRun runs the snippet's code and returns stdout, stderr, exit code
// and duration. A failing program is still a 200; only infrastructure
// failures are errors.
//
// HTTP: POST /api/snippets/{id}/run
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.runs.Run(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", result)
}
