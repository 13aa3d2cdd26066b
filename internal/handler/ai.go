package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/codesnip/internal/service"
)

// AIHandler serves /api/ai.
type AIHandler struct {
	ai     *service.AIService
	logger *slog.Logger
}

func NewAIHandler(ai *service.AIService, logger *slog.Logger) *AIHandler {
	return &AIHandler{ai: ai, logger: logger}
}

// HandleAutoTag suggests tags and a description for unsaved code.
//
// HTTP: POST /api/ai/auto-tag {code, language, title}
func (h *AIHandler) HandleAutoTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r, h.logger); !ok {
		return
	}

	var in service.AutoTagInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	suggestions, err := h.ai.AutoTag(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "AI suggestions generated successfully", suggestions)
}

// HandleSmartSearch ranks the caller's snippets against a query. When the
// model fails the caller still gets 200 with the unranked list.
//
// HTTP: POST /api/ai/smart-search {query}
func (h *AIHandler) HandleSmartSearch(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	var in struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippets, err := h.ai.SmartSearch(r.Context(), uid, in.Query)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	msg := "Smart search completed"
	if len(snippets) == 0 {
		msg = "No snippets found"
	}
	writeOK(w, http.StatusOK, msg, snippets)
}
