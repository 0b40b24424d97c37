// Package models defines the domain types for Snippets.
package models

import "time"

// NoteStatus tracks a note through agent enrichment.
type NoteStatus string

const (
	StatusRaw        NoteStatus = "raw"
	StatusQueued     NoteStatus = "queued"
	StatusProcessing NoteStatus = "processing"
	StatusProcessed  NoteStatus = "processed"
	StatusFailed     NoteStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s NoteStatus) Valid() bool {
	switch s {
	case StatusRaw, StatusQueued, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Change notifier event names.
const (
	EventNotesUpdated       = "notes-updated"
	EventConnectionsUpdated = "connections-updated"
	EventMemoryUpdated      = "memory-updated"
	EventMissionUpdated     = "mission-updated"
)

// Metadata is the YAML frontmatter stored at the top of every note file.
type Metadata struct {
	ID                       string     `yaml:"id" json:"id"`
	Created                  time.Time  `yaml:"created" json:"created"`
	Updated                  *time.Time `yaml:"updated,omitempty" json:"updated,omitempty"`
	Title                    string     `yaml:"title,omitempty" json:"title,omitempty"`
	FolderPath               string     `yaml:"folderPath" json:"folderPath"`
	Status                   NoteStatus `yaml:"status,omitempty" json:"status,omitempty"`
	Kind                     string     `yaml:"kind,omitempty" json:"kind,omitempty"`
	Themes                   []string   `yaml:"themes,omitempty" json:"themes,omitempty"`
	Summary                  string     `yaml:"summary,omitempty" json:"summary,omitempty"`
	Actionability            string     `yaml:"actionability,omitempty" json:"actionability,omitempty"`
	ClassificationConfidence *float64   `yaml:"classificationConfidence,omitempty" json:"classificationConfidence,omitempty"`
	SuggestedActions         []Action   `yaml:"suggestedActions,omitempty" json:"suggestedActions,omitempty"`
	Connections              []string   `yaml:"connections,omitempty" json:"connections,omitempty"`
	SeenAt                   *time.Time `yaml:"seenAt,omitempty" json:"seenAt,omitempty"`
	ProcessedAt              *time.Time `yaml:"processedAt,omitempty" json:"processedAt,omitempty"`
	ProcessingError          string     `yaml:"processingError,omitempty" json:"processingError,omitempty"`

	// Extra keeps frontmatter keys this version does not know about so a
	// rewrite does not drop them.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (m Metadata) Clone() Metadata {
	out := m
	out.Themes = append([]string(nil), m.Themes...)
	out.Connections = append([]string(nil), m.Connections...)
	if m.SuggestedActions != nil {
		out.SuggestedActions = make([]Action, len(m.SuggestedActions))
		for i, a := range m.SuggestedActions {
			out.SuggestedActions[i] = a.Clone()
		}
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Note is a parsed note document.
type Note struct {
	Metadata Metadata `json:"frontmatter"`
	Content  string   `json:"content"`
	FilePath string   `json:"filePath,omitempty"`
}

// ID is a shorthand for n.Metadata.ID.
func (n *Note) ID() string { return n.Metadata.ID }

// MetadataPatch carries the fields to merge over existing metadata.
// Nil fields are left untouched.
type MetadataPatch struct {
	Title                    *string     `json:"title,omitempty"`
	FolderPath               *string     `json:"folderPath,omitempty"`
	Status                   *NoteStatus `json:"status,omitempty"`
	Kind                     *string     `json:"kind,omitempty"`
	Themes                   *[]string   `json:"themes,omitempty"`
	Summary                  *string     `json:"summary,omitempty"`
	Actionability            *string     `json:"actionability,omitempty"`
	ClassificationConfidence *float64    `json:"classificationConfidence,omitempty"`
	SuggestedActions         *[]Action   `json:"suggestedActions,omitempty"`
	Connections              *[]string   `json:"connections,omitempty"`
	SeenAt                   *time.Time  `json:"seenAt,omitempty"`
	ProcessedAt              *time.Time  `json:"processedAt,omitempty"`
	ProcessingError          *string     `json:"processingError,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p MetadataPatch) Empty() bool {
	return p == MetadataPatch{}
}

// Apply merges p over m in place.
func (p MetadataPatch) Apply(m *Metadata) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.FolderPath != nil {
		m.FolderPath = *p.FolderPath
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Kind != nil {
		m.Kind = *p.Kind
	}
	if p.Themes != nil {
		m.Themes = append([]string(nil), (*p.Themes)...)
	}
	if p.Summary != nil {
		m.Summary = *p.Summary
	}
	if p.Actionability != nil {
		m.Actionability = *p.Actionability
	}
	if p.ClassificationConfidence != nil {
		v := *p.ClassificationConfidence
		m.ClassificationConfidence = &v
	}
	if p.SuggestedActions != nil {
		actions := make([]Action, len(*p.SuggestedActions))
		for i, a := range *p.SuggestedActions {
			actions[i] = a.Clone()
		}
		m.SuggestedActions = actions
	}
	if p.Connections != nil {
		m.Connections = append([]string(nil), (*p.Connections)...)
	}
	if p.SeenAt != nil {
		v := *p.SeenAt
		m.SeenAt = &v
	}
	if p.ProcessedAt != nil {
		v := *p.ProcessedAt
		m.ProcessedAt = &v
	}
	if p.ProcessingError != nil {
		m.ProcessingError = *p.ProcessingError
	}
}
