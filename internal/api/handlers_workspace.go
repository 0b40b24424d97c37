package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Tree handles GET /api/tree.
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.Store().Tree(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// RemoveFolder handles POST /api/folders/remove. Notes inside the folder
// are moved to the default folder first; a partial failure reports how
// many were moved.
func (h *Handler) RemoveFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FolderPath == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("folderPath is required"))
		return
	}
	res, err := h.svc.Store().RemoveFolder(r.Context(), *req.FolderPath)
	if err != nil {
		if res.MovedNotes > 0 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":      err.Error(),
				"movedNotes": res.MovedNotes,
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPending handles GET /api/pending.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.Pending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// StartPending handles POST /api/pending/{id}/start.
func (h *Handler) StartPending(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.StartProcessing(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinishPending handles DELETE /api/pending/{id}.
func (h *Handler) FinishPending(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.FinishProcessing(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connections handles GET /api/connections.
func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Connections()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type documentResponse struct {
	Content string `json:"content"`
}

// Memory handles GET /api/memory.
func (h *Handler) Memory(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.Memory()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Content: text})
}

// Mission handles GET /api/mission.
func (h *Handler) Mission(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.Mission()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Content: text})
}
