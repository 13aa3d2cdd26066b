package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/auth"
	"github.com/sakif/codesnip/internal/service"
)

// SnippetHandler serves /api/snippets. Every route except the shared lookup
// runs behind auth.RequireAuth and acts on the caller's own snippets.
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

// userID reads the authenticated caller. RequireAuth guarantees it on
// protected routes; a missing value means the route was mounted wrong.
func userID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, logger, apperror.Unauthorized("No token provided. Authorization denied."))
	}
	return id, ok
}

// HandleList returns one filtered page of the caller's snippets.
//
// HTTP: GET /api/snippets?page=&limit=&language=&tags=a,b&search=
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := h.snippets.List(r.Context(), uid, service.ListQuery{
		Page:     q.Get("page"),
		Limit:    q.Get("limit"),
		Language: q.Get("language"),
		Tags:     q.Get("tags"),
		Search:   q.Get("search"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", page)
}

// HandleStats returns language and tag counts.
//
// HTTP: GET /api/snippets/stats
func (h *SnippetHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	stats, err := h.snippets.Stats(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", stats)
}

// HandleGet returns one snippet.
//
// HTTP: GET /api/snippets/{id}
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	snippet, err := h.snippets.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", snippet)
}

// HandleCreate stores a new snippet.
//
// HTTP: POST /api/snippets → 201
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	var in service.CreateSnippetInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippet, err := h.snippets.Create(r.Context(), uid, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Snippet created successfully", snippet)
}

// HandleUpdate applies a partial update. See service.UpdateSnippetInput for
// how absent, null and empty fields differ.
//
// HTTP: PUT /api/snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	var in service.UpdateSnippetInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippet, err := h.snippets.Update(r.Context(), uid, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Snippet updated successfully", snippet)
}

// HandleDelete hard-deletes a snippet.
//
// HTTP: DELETE /api/snippets/{id}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.snippets.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Snippet deleted successfully", nil)
}

// HandleShare issues (or rotates) the snippet's share link.
//
// HTTP: POST /api/snippets/{id}/share
func (h *SnippetHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r, h.logger)
	if !ok {
		return
	}

	link, err := h.snippets.Share(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Share link generated successfully", link)
}

// HandleGetShared is the public lookup behind a share link. No auth.
//
// HTTP: GET /api/snippets/shared/{token}
func (h *SnippetHandler) HandleGetShared(w http.ResponseWriter, r *http.Request) {
	shared, err := h.snippets.GetShared(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, apperror.ErrNotFound) {
		err = &apperror.AppError{Err: apperror.ErrNotFound, Message: "Snippet not found or not shared"}
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", shared)
}
