package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/snippets/internal/jobs"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/noteservice"
)

// Jobs is the job tracker surface used by the agent-action routes.
type Jobs interface {
	RunAction(ctx context.Context, noteID string, idx int) (*models.Job, error)
	CompleteAction(ctx context.Context, noteID string, idx int, c jobs.Completion) (*models.Job, error)
	Status(ctx context.Context, noteID string, idx int) (jobs.StatusView, error)
}

// Deps wires the router.
type Deps struct {
	Service *noteservice.Service
	Jobs    Jobs
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events      http.Handler
	AuthEnabled bool
	Token       string
}

// NewRouter creates a chi router with all API routes mounted. It is meant
// to be mounted under /api.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Service, d.Jobs)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(d.AuthEnabled, d.Token))

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", h.ListNotes)
		r.Post("/", h.CreateNote)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetNote)
			r.Patch("/", h.EditNote)
			r.Delete("/", h.DeleteNote)
			r.Patch("/meta", h.PatchMeta)
			r.Patch("/frontmatter", h.PatchFrontmatter)
			r.Post("/seen", h.MarkSeen)
			r.Post("/move", h.MoveNote)
			r.Post("/retry", h.RetryNote)
		})
	})

	r.Get("/tree", h.Tree)
	r.Post("/folders/remove", h.RemoveFolder)

	r.Get("/pending", h.ListPending)
	r.Post("/pending/{id}/start", h.StartPending)
	r.Delete("/pending/{id}", h.FinishPending)

	r.Get("/user-actions", h.ListUserActions)
	r.Post("/user-actions/{id}/{idx}/complete", h.CompleteUserAction)
	r.Post("/user-actions/{id}/{idx}/decline", h.DeclineUserAction)

	r.Post("/agent-actions/{id}/{idx}/run", h.RunAgentAction)
	r.Post("/agent-actions/{id}/{idx}/complete", h.CompleteAgentAction)
	r.Get("/agent-actions/{id}/{idx}/status", h.AgentActionStatus)
	r.Get("/agent/status", h.AgentStatus)

	r.Get("/connections", h.Connections)
	r.Get("/memory", h.Memory)
	r.Get("/mission", h.Mission)

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}
