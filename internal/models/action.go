package models

import "time"

// Assignee says who is expected to carry out an action.
type Assignee string

const (
	AssigneeUser  Assignee = "user"
	AssigneeAgent Assignee = "agent"
)

// ActionStatus is the user-facing state of a suggested action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionDeclined  ActionStatus = "declined"
)

// Priority of a suggested action.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// JobStatus is the lifecycle state of one dispatched agent job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further automatic transition is expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Action is one entry of a note's suggestedActions list.
type Action struct {
	Type     string       `yaml:"type,omitempty" json:"type,omitempty"`
	Label    string       `yaml:"label,omitempty" json:"label,omitempty"`
	Assignee Assignee     `yaml:"assignee,omitempty" json:"assignee,omitempty"`
	Priority Priority     `yaml:"priority,omitempty" json:"priority,omitempty"`
	Status   ActionStatus `yaml:"status,omitempty" json:"status,omitempty"`
	Result   string       `yaml:"result,omitempty" json:"result,omitempty"`

	JobID        string     `yaml:"jobId,omitempty" json:"jobId,omitempty"`
	JobStatus    JobStatus  `yaml:"jobStatus,omitempty" json:"jobStatus,omitempty"`
	JobStartedAt *time.Time `yaml:"jobStartedAt,omitempty" json:"jobStartedAt,omitempty"`

	LinkedNoteID    string `yaml:"linkedNoteId,omitempty" json:"linkedNoteId,omitempty"`
	LinkedNoteTitle string `yaml:"linkedNoteTitle,omitempty" json:"linkedNoteTitle,omitempty"`
}

// Clone copies the action including its pointer fields.
func (a Action) Clone() Action {
	if a.JobStartedAt != nil {
		v := *a.JobStartedAt
		a.JobStartedAt = &v
	}
	return a
}

// EffectiveStatus treats a missing status as pending.
func (a Action) EffectiveStatus() ActionStatus {
	if a.Status == "" {
		return ActionPending
	}
	return a.Status
}

// DisplayLabel falls back to the action type when no label was given.
func (a Action) DisplayLabel() string {
	if a.Label != "" {
		return a.Label
	}
	if a.Type != "" {
		return a.Type
	}
	return "agent action"
}

// Job records one dispatched execution of an agent action.
type Job struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	Result          string     `json:"result,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	NoteID          string     `json:"noteId"`
	ActionIndex     int        `json:"actionIndex"`
	LinkedNoteID    string     `json:"linkedNoteId,omitempty"`
	LinkedNoteTitle string     `json:"linkedNoteTitle,omitempty"`
}

// Edge links two notes in the connection graph. Edges are undirected.
type Edge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
	Reason       string  `json:"reason"`
}

// SamePair reports whether e and o join the same unordered pair of notes.
func (e Edge) SamePair(o Edge) bool {
	return (e.Source == o.Source && e.Target == o.Target) ||
		(e.Source == o.Target && e.Target == o.Source)
}

// Touches reports whether the edge mentions id at either end.
func (e Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}
