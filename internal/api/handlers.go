package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc  *noteservice.Service
	jobs Jobs
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service, jobs Jobs) *Handler {
	return &Handler{svc: svc, jobs: jobs}
}

type contentRequest struct {
	Content *string `json:"content"`
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List the frontmatter of every note, newest first
//	@Tags			notes
//	@Produce		json
//	@Success		200	{array}	models.Metadata
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.Store().List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]models.Metadata, len(notes))
	for i, n := range notes {
		out[i] = n.Metadata
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Capture a new note and queue it for the agent
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	models.Note
//	@Failure		400	{object}	errResponse
//	@Failure		413	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	note, err := h.svc.Capture(r.Context(), *req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// EditNote handles PATCH /api/notes/{id}. The note is re-queued for
// processing.
func (h *Handler) EditNote(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	note, err := h.svc.Edit(r.Context(), chi.URLParam(r, "id"), *req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.Store().Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// PatchMeta handles PATCH /api/notes/{id}/meta, the user-editable
// metadata. Only the title is editable; an empty title clears it.
func (h *Handler) PatchMeta(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decodeJSON(w, r, &req) {
		return
	}
	raw, present := req["title"]
	if !present {
		writeJSON(w, http.StatusBadRequest, errorBody("no editable fields provided"))
		return
	}
	title, isString := raw.(string)
	if !isString {
		writeJSON(w, http.StatusBadRequest, errorBody("title must be a string"))
		return
	}
	note, err := h.svc.SetTitle(r.Context(), chi.URLParam(r, "id"), title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// PatchFrontmatter handles PATCH /api/notes/{id}/frontmatter, the agent's
// enrichment write.
func (h *Handler) PatchFrontmatter(w http.ResponseWriter, r *http.Request) {
	var patch models.MetadataPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody("no fields provided"))
		return
	}
	note, err := h.svc.Store().PatchMetadata(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// MarkSeen handles POST /api/notes/{id}/seen.
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Store().MarkSeen(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type folderRequest struct {
	FolderPath *string `json:"folderPath"`
}

type moveResponse struct {
	OK   bool         `json:"ok"`
	Note *models.Note `json:"note"`
}

// MoveNote handles POST /api/notes/{id}/move.
func (h *Handler) MoveNote(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FolderPath == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("folderPath is required"))
		return
	}
	note, err := h.svc.Store().Move(r.Context(), chi.URLParam(r, "id"), *req.FolderPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{OK: true, Note: note})
}

type retryResponse struct {
	OK    bool         `json:"ok"`
	Note  *models.Note `json:"note,omitempty"`
	Error string       `json:"error,omitempty"`
}

// RetryNote handles POST /api/notes/{id}/retry.
func (h *Handler) RetryNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if note != nil {
			writeJSON(w, http.StatusBadGateway, retryResponse{OK: false, Note: note, Error: note.Metadata.ProcessingError})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{OK: true, Note: note})
}
