package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/folderpath"
	"github.com/starford/snippets/internal/models"
)

// PatchMetadata merges patch over the note's metadata, refreshes updated and
// relocates the file when folderPath changes. Every metadata-affecting
// operation of the store goes through here.
func (s *Store) PatchMetadata(ctx context.Context, id string, patch models.MetadataPatch) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, id, patch, nil)
}

// UpdateActions runs fn over a copy of the note's suggested actions and
// stores the result through PatchMetadata. An error from fn aborts without
// writing.
func (s *Store) UpdateActions(ctx context.Context, id string, fn func(actions []models.Action) ([]models.Action, error)) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, note, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	actions := note.Metadata.Clone().SuggestedActions
	actions, err = fn(actions)
	if err != nil {
		return nil, err
	}
	if actions == nil {
		actions = []models.Action{}
	}
	return s.apply(ctx, id, models.MetadataPatch{SuggestedActions: &actions}, nil)
}

// SaveContent replaces the note body, re-queues it and marks it queued.
func (s *Store) SaveContent(ctx context.Context, id, content string) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := models.StatusQueued
	body := strings.TrimSpace(content)
	note, err := s.apply(ctx, id, models.MetadataPatch{Status: &queued}, &body)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, id); err != nil {
		return note, err
	}
	return note, nil
}

// SetStatus sets the processing status. errText is stored as the processing
// error for failed notes and cleared otherwise.
func (s *Store) SetStatus(ctx context.Context, id string, status models.NoteStatus, errText string) (*models.Note, error) {
	patch := models.MetadataPatch{Status: &status}
	if status == models.StatusFailed {
		patch.ProcessingError = &errText
	} else {
		empty := ""
		patch.ProcessingError = &empty
	}
	return s.PatchMetadata(ctx, id, patch)
}

// MarkSeen stamps seenAt with the current time.
func (s *Store) MarkSeen(ctx context.Context, id string) (*models.Note, error) {
	now := s.now().UTC()
	return s.PatchMetadata(ctx, id, models.MetadataPatch{SeenAt: &now})
}

// Move relocates the note to folder after sanitizing it.
func (s *Store) Move(ctx context.Context, id, folder string) (*models.Note, error) {
	clean, err := folderpath.Sanitize(folder)
	if err != nil {
		return nil, err
	}
	return s.PatchMetadata(ctx, id, models.MetadataPatch{FolderPath: &clean})
}

// Delete removes the note file together with its pending marker and every
// connection edge mentioning it. It reports false when no such note exists.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, _, err := s.locate(ctx, id)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.fs.Delete(rel); err != nil {
		return false, apperr.WriteFailed("docstore: delete note", err)
	}

	if err := s.queue.Dequeue(ctx, id); err != nil {
		s.logger.Warn("delete: pending marker not removed", slog.String("note_id", id), slog.String("error", err.Error()))
	}
	if s.edges != nil {
		if _, err := s.edges.RemoveNoteEdges(id); err != nil {
			s.logger.Warn("delete: edges not removed", slog.String("note_id", id), slog.String("error", err.Error()))
		}
	}
	if s.idx != nil {
		if err := s.idx.Delete(id); err != nil {
			s.logger.Warn("delete: index row not removed", slog.String("note_id", id), slog.String("error", err.Error()))
		}
	}

	s.logger.Info("note deleted", slog.String("note_id", id))
	s.notify(models.EventNotesUpdated)
	return true, nil
}

// apply is the single write path. The caller holds s.mu. When content is
// non-nil the body is replaced as well. Nothing is committed unless the
// physical write succeeds.
func (s *Store) apply(ctx context.Context, id string, patch models.MetadataPatch, content *string) (*models.Note, error) {
	rel, current, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("docstore: unknown status %q: %w", *patch.Status, apperr.ErrRejected)
	}
	if patch.FolderPath != nil {
		clean, err := folderpath.Sanitize(*patch.FolderPath)
		if err != nil {
			return nil, err
		}
		patch.FolderPath = &clean
	}

	meta := current.Metadata.Clone()
	patch.Apply(&meta)
	meta.ID = current.ID()
	meta.Created = current.Metadata.Created
	now := s.now().UTC()
	meta.Updated = &now

	next := &models.Note{Metadata: meta, Content: current.Content}
	if content != nil {
		next.Content = *content
	}

	target := notePath(meta.FolderPath, meta.ID)
	if target == rel {
		if err := s.write(rel, next); err != nil {
			return nil, err
		}
	} else {
		if err := s.relocate(rel, target, next); err != nil {
			return nil, err
		}
		s.ensureIcons(meta.FolderPath)
		s.logger.Info("note moved",
			slog.String("note_id", meta.ID),
			slog.String("from", folderOf(rel)),
			slog.String("to", meta.FolderPath))
	}
	next.FilePath = target

	s.notify(models.EventNotesUpdated)
	return next, nil
}

// relocate writes the note at target first and only then removes the old
// file, so exactly one copy survives either way.
func (s *Store) relocate(from, to string, note *models.Note) error {
	if err := s.write(to, note); err != nil {
		return err
	}
	if err := s.fs.Delete(from); err != nil {
		if rbErr := s.fs.Delete(to); rbErr != nil {
			s.logger.Error("relocate: rollback failed",
				slog.String("note_id", note.ID()),
				slog.String("path", to),
				slog.String("error", rbErr.Error()))
		} else {
			s.reindex(from)
		}
		return apperr.WriteFailed("docstore: remove old location", err)
	}
	return nil
}
