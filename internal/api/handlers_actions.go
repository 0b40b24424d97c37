package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/snippets/internal/jobs"
	"github.com/starford/snippets/internal/models"
)

// actionRef reads the {id}/{idx} pair. It writes a 400 and reports false
// when idx is not a non-negative integer.
func actionRef(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("action index must be a non-negative integer"))
		return "", 0, false
	}
	return chi.URLParam(r, "id"), idx, true
}

type actionResponse struct {
	OK     bool           `json:"ok"`
	Action *models.Action `json:"action"`
}

// ListUserActions handles GET /api/user-actions.
func (h *Handler) ListUserActions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.UserActions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CompleteUserAction handles POST /api/user-actions/{id}/{idx}/complete.
// The body is optional.
func (h *Handler) CompleteUserAction(w http.ResponseWriter, r *http.Request) {
	id, idx, ok := actionRef(w, r)
	if !ok {
		return
	}
	var req struct {
		Result string `json:"result"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.CompleteUserAction(r.Context(), id, idx, req.Result)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, Action: a})
}

// DeclineUserAction handles POST /api/user-actions/{id}/{idx}/decline.
func (h *Handler) DeclineUserAction(w http.ResponseWriter, r *http.Request) {
	id, idx, ok := actionRef(w, r)
	if !ok {
		return
	}
	a, err := h.svc.DeclineUserAction(r.Context(), id, idx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, Action: a})
}

type runResponse struct {
	OK    bool   `json:"ok"`
	JobID string `json:"jobId"`
}

// RunAgentAction handles POST /api/agent-actions/{id}/{idx}/run.
//
//	@Summary		Dispatch an agent-assigned action
//	@Tags			actions
//	@Produce		json
//	@Success		200	{object}	runResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		429	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/agent-actions/{id}/{idx}/run [post]
func (h *Handler) RunAgentAction(w http.ResponseWriter, r *http.Request) {
	id, idx, ok := actionRef(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.RunAction(r.Context(), id, idx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{OK: true, JobID: job.ID})
}

type completeResponse struct {
	OK           bool             `json:"ok"`
	JobID        string           `json:"jobId"`
	Status       models.JobStatus `json:"status"`
	LinkedNoteID *string          `json:"linkedNoteId"`
}

// CompleteAgentAction handles POST /api/agent-actions/{id}/{idx}/complete,
// the agent's completion callback.
//
//	@Summary		Report the outcome of an agent action
//	@Tags			actions
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	completeResponse
//	@Failure		400	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/agent-actions/{id}/{idx}/complete [post]
func (h *Handler) CompleteAgentAction(w http.ResponseWriter, r *http.Request) {
	id, idx, ok := actionRef(w, r)
	if !ok {
		return
	}
	var req jobs.Completion
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.jobs.CompleteAction(r.Context(), id, idx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := completeResponse{OK: true, JobID: job.ID, Status: job.Status}
	if job.LinkedNoteID != "" {
		linked := job.LinkedNoteID
		resp.LinkedNoteID = &linked
	}
	writeJSON(w, http.StatusOK, resp)
}

// AgentActionStatus handles GET /api/agent-actions/{id}/{idx}/status.
func (h *Handler) AgentActionStatus(w http.ResponseWriter, r *http.Request) {
	id, idx, ok := actionRef(w, r)
	if !ok {
		return
	}
	view, err := h.jobs.Status(r.Context(), id, idx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AgentStatus handles GET /api/agent/status.
func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.AgentStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
