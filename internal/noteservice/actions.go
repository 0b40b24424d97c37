package noteservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/parser"
)

// UserAction is a suggested action the user is expected to carry out.
type UserAction struct {
	NoteID      string              `json:"noteId"`
	NoteTitle   string              `json:"noteTitle"`
	ActionIndex int                 `json:"actionIndex"`
	Label       string              `json:"label"`
	Priority    models.Priority     `json:"priority,omitempty"`
	Status      models.ActionStatus `json:"status"`
}

// UserActions lists every user-assigned action across all notes, newest
// notes first.
func (s *Service) UserActions(ctx context.Context) ([]UserAction, error) {
	notes, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []UserAction{}
	for _, n := range notes {
		title := parser.DeriveTitle(n.Metadata, n.Content)
		for i, a := range n.Metadata.SuggestedActions {
			if a.Assignee != models.AssigneeUser {
				continue
			}
			out = append(out, UserAction{
				NoteID:      n.ID(),
				NoteTitle:   title,
				ActionIndex: i,
				Label:       a.DisplayLabel(),
				Priority:    a.Priority,
				Status:      a.EffectiveStatus(),
			})
		}
	}
	return out, nil
}

// CompleteUserAction marks the action completed, recording result when
// given.
func (s *Service) CompleteUserAction(ctx context.Context, id string, idx int, result string) (*models.Action, error) {
	result = strings.TrimSpace(result)
	return s.setActionStatus(ctx, id, idx, func(a *models.Action) {
		a.Status = models.ActionCompleted
		if result != "" {
			a.Result = result
		}
	})
}

// DeclineUserAction marks the action declined.
func (s *Service) DeclineUserAction(ctx context.Context, id string, idx int) (*models.Action, error) {
	return s.setActionStatus(ctx, id, idx, func(a *models.Action) {
		a.Status = models.ActionDeclined
	})
}

func (s *Service) setActionStatus(ctx context.Context, id string, idx int, fn func(*models.Action)) (*models.Action, error) {
	var updated models.Action
	_, err := s.store.UpdateActions(ctx, id, func(actions []models.Action) ([]models.Action, error) {
		if idx < 0 || idx >= len(actions) {
			return nil, fmt.Errorf("action %d of %s: %w", idx, id, apperr.ErrActionIndex)
		}
		fn(&actions[idx])
		updated = actions[idx].Clone()
		return actions, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Agent connectivity states.
const (
	AgentOnline   = "online"
	AgentDegraded = "degraded"
	AgentOffline  = "offline"
)

// AgentStatus summarises gateway reachability and workload.
type AgentStatus struct {
	State         string     `json:"state"`
	Available     bool       `json:"available"`
	Listening     bool       `json:"listening"`
	PendingQueue  int        `json:"pendingQueue"`
	RunningJobs   int        `json:"runningJobs"`
	LastTriggerAt *time.Time `json:"lastTriggerAt"`
	LastSuccessAt *time.Time `json:"lastSuccessAt"`
	LastError     *string    `json:"lastError"`
}

// AgentStatus reports offline without a hooks token, degraded after a
// failed trigger and online otherwise.
func (s *Service) AgentStatus(ctx context.Context) (AgentStatus, error) {
	pending, err := s.store.Queue().Len(ctx)
	if err != nil {
		return AgentStatus{}, err
	}
	snap := s.agent.Snapshot()
	st := AgentStatus{
		State:         AgentOnline,
		Available:     s.agent.Configured(),
		Listening:     true,
		PendingQueue:  pending,
		LastTriggerAt: snap.LastTriggerAt,
		LastSuccessAt: snap.LastSuccessAt,
	}
	if snap.LastError != "" {
		e := snap.LastError
		st.LastError = &e
	}
	if s.jobs != nil {
		st.RunningJobs = s.jobs.RunningCount()
	}
	switch {
	case !st.Available:
		st.State = AgentOffline
	case snap.LastTriggerOK != nil && !*snap.LastTriggerOK:
		st.State = AgentDegraded
	}
	return st, nil
}

var _ Agent = (*agent.Client)(nil)
