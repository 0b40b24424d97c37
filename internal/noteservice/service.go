// Package noteservice orchestrates the document store, pending queue and
// agent gateway for the HTTP and MCP surfaces.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/docstore"
	"github.com/starford/snippets/internal/graph"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/telemetry"
)

// Content and title limits.
const (
	MinContentLen = 3
	MaxContentLen = 100_000
	MaxTitleLen   = 180
)

var (
	ErrContentTooShort = fmt.Errorf("content too short (minimum %d characters): %w", MinContentLen, apperr.ErrRejected)
	ErrContentEmpty    = fmt.Errorf("content is required: %w", apperr.ErrRejected)
	ErrContentTooLarge = fmt.Errorf("content too large (maximum %d characters): %w", MaxContentLen, apperr.ErrRejected)
	ErrTitleTooLong    = fmt.Errorf("title too long (maximum %d characters): %w", MaxTitleLen, apperr.ErrRejected)
)

// Agent is the gateway client as seen by the service.
type Agent interface {
	Dispatch(ctx context.Context, t agent.Task) error
	Snapshot() agent.Connectivity
	Configured() bool
}

// JobCounter reports the number of running agent jobs.
type JobCounter interface {
	RunningCount() int
}

// Options wires a Service. Store and Agent are required.
type Options struct {
	Store       *docstore.Store
	Agent       Agent
	Jobs        JobCounter   // optional
	Graph       *graph.Store // optional
	MemoryFile  string
	MissionFile string
	Logger      *slog.Logger
}

// Service is the note workflow used by the transport layers.
type Service struct {
	store       *docstore.Store
	agent       Agent
	jobs        JobCounter
	graph       *graph.Store
	memoryFile  string
	missionFile string
	logger      *slog.Logger
}

// New builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("noteservice: store is required")
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("noteservice: agent is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       opts.Store,
		agent:       opts.Agent,
		jobs:        opts.Jobs,
		graph:       opts.Graph,
		memoryFile:  opts.MemoryFile,
		missionFile: opts.MissionFile,
		logger:      logger,
	}, nil
}

// Store exposes the underlying document store.
func (s *Service) Store() *docstore.Store { return s.store }

// Capture stores a new note, queues it and asks the agent to process it.
// A failed trigger leaves the note failed with the reason recorded; the
// note is returned either way.
func (s *Service) Capture(ctx context.Context, content string) (*models.Note, error) {
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n < MinContentLen {
		return nil, ErrContentTooShort
	} else if n > MaxContentLen {
		return nil, ErrContentTooLarge
	}

	note, err := s.store.Create(ctx, content)
	if err != nil {
		return nil, err
	}
	telemetry.NotesCreated.Inc()
	return s.queueAndTrigger(ctx, note.ID())
}

// Edit replaces the note body and re-triggers processing. Trigger failures
// are logged only.
func (s *Service) Edit(ctx context.Context, id, content string) (*models.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrContentEmpty
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return nil, ErrContentTooLarge
	}
	note, err := s.store.SaveContent(ctx, id, content)
	if err != nil {
		return nil, err
	}
	s.updateQueueGauge(ctx)
	if err := s.agent.Dispatch(ctx, agent.ProcessNoteTask(id)); err != nil {
		s.logger.Warn("edit: agent trigger failed", slog.String("note_id", id), slog.String("error", err.Error()))
	}
	return note, nil
}

// Retry re-queues a note and triggers the agent again. When the trigger
// fails the note is marked failed and the dispatch error is returned.
func (s *Service) Retry(ctx context.Context, id string) (*models.Note, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	note, err := s.queueAndTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	if note.Metadata.Status == models.StatusFailed {
		return note, fmt.Errorf("%s: %w", note.Metadata.ProcessingError, apperr.ErrDispatchFailed)
	}
	return note, nil
}

func (s *Service) queueAndTrigger(ctx context.Context, id string) (*models.Note, error) {
	if err := s.store.Queue().Enqueue(ctx, id); err != nil {
		return nil, err
	}
	s.updateQueueGauge(ctx)
	note, err := s.store.SetStatus(ctx, id, models.StatusQueued, "")
	if err != nil {
		return nil, err
	}
	if err := s.agent.Dispatch(ctx, agent.ProcessNoteTask(id)); err != nil {
		reason := triggerFailure(err)
		s.logger.Warn("agent trigger failed", slog.String("note_id", id), slog.String("error", reason))
		return s.store.SetStatus(ctx, id, models.StatusFailed, reason)
	}
	return note, nil
}

// SetTitle sets or, when blank, clears the note title.
func (s *Service) SetTitle(ctx context.Context, id, title string) (*models.Note, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}
	return s.store.PatchMetadata(ctx, id, models.MetadataPatch{Title: &title})
}

// StartProcessing marks a pending note as being worked on by the agent.
func (s *Service) StartProcessing(ctx context.Context, id string) (*models.Note, error) {
	return s.store.SetStatus(ctx, id, models.StatusProcessing, "")
}

// FinishProcessing removes the pending marker and marks the note processed.
func (s *Service) FinishProcessing(ctx context.Context, id string) (*models.Note, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.Queue().Dequeue(ctx, id); err != nil {
		return nil, err
	}
	s.updateQueueGauge(ctx)
	processed := models.StatusProcessed
	now := time.Now().UTC()
	empty := ""
	return s.store.PatchMetadata(ctx, id, models.MetadataPatch{
		Status:          &processed,
		ProcessedAt:     &now,
		ProcessingError: &empty,
	})
}

// Pending lists the ids waiting for agent processing.
func (s *Service) Pending(ctx context.Context) ([]string, error) {
	ids, err := s.store.Queue().List(ctx)
	if err != nil {
		return nil, err
	}
	telemetry.PendingQueueGauge.Set(float64(len(ids)))
	return ids, nil
}

// Connections returns the note connection graph.
func (s *Service) Connections() (graph.Graph, error) {
	if s.graph == nil {
		return graph.Graph{Version: 1, Edges: []models.Edge{}}, nil
	}
	return s.graph.List()
}

// Memory returns the agent memory document, empty when absent.
func (s *Service) Memory() (string, error) { return readOptional(s.memoryFile) }

// Mission returns the mission document, empty when absent.
func (s *Service) Mission() (string, error) { return readOptional(s.missionFile) }

func (s *Service) updateQueueGauge(ctx context.Context) {
	if n, err := s.store.Queue().Len(ctx); err == nil {
		telemetry.PendingQueueGauge.Set(float64(n))
	}
}

// triggerFailure renders a dispatch error as stored on the note.
func triggerFailure(err error) string {
	var se *agent.StatusError
	if errors.As(err, &se) {
		return strings.TrimSpace(fmt.Sprintf("Trigger failed: %d %s", se.Code, se.Body))
	}
	if errors.Is(err, agent.ErrNoToken) {
		return "No hooks token configured"
	}
	return err.Error()
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
