// Package graph persists the undirected connection graph between notes.
package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/models"
)

const fileVersion = 1

// Graph is the on-disk document.
type Graph struct {
	Version int           `json:"version"`
	Edges   []models.Edge `json:"edges"`
}

// Notifier receives change events.
type Notifier interface {
	Notify(event string)
}

// Store reads and writes the connections file. All mutations are serialized.
type Store struct {
	mu       sync.Mutex
	path     string
	notifier Notifier
	logger   *slog.Logger
}

// New returns a store backed by path. notifier and logger may be nil.
func New(path string, notifier Notifier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, notifier: notifier, logger: logger}
}

// List returns the current graph. A missing or unreadable file yields an
// empty graph.
func (s *Store) List() (Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

// AddEdge appends e unless an edge already joins the same pair of notes.
// It reports whether the graph changed.
func (s *Store) AddEdge(e models.Edge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.load()
	for _, existing := range g.Edges {
		if existing.SamePair(e) {
			return false, nil
		}
	}
	g.Edges = append(g.Edges, e)
	if err := s.save(g); err != nil {
		return false, err
	}
	s.notify()
	return true, nil
}

// RemoveNoteEdges drops every edge touching id and returns how many went.
func (s *Store) RemoveNoteEdges(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.load()
	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if !e.Touches(id) {
			kept = append(kept, e)
		}
	}
	removed := len(g.Edges) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	g.Edges = kept
	if err := s.save(g); err != nil {
		return 0, err
	}
	s.notify()
	return removed, nil
}

func (s *Store) load() Graph {
	empty := Graph{Version: fileVersion, Edges: []models.Edge{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("graph: read failed", slog.String("path", s.path), slog.String("error", err.Error()))
		}
		return empty
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		s.logger.Warn("graph: corrupt file ignored", slog.String("path", s.path), slog.String("error", err.Error()))
		return empty
	}
	if g.Version == 0 {
		g.Version = fileVersion
	}
	if g.Edges == nil {
		g.Edges = []models.Edge{}
	}
	return g
}

func (s *Store) save(g Graph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperr.WriteFailed("graph: mkdir", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return apperr.WriteFailed("graph: write", err)
	}
	return nil
}

func (s *Store) notify() {
	if s.notifier != nil {
		s.notifier.Notify(models.EventConnectionsUpdated)
	}
}
