// Package docstore persists notes as frontmatter + Markdown files inside a
// folder hierarchy and owns note identity, placement and folder icons.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/folderpath"
	"github.com/starford/snippets/internal/index"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/parser"
	"github.com/starford/snippets/internal/pending"
	"github.com/starford/snippets/internal/storage"
)

// Notifier receives change events.
type Notifier interface {
	Notify(event string)
}

// EdgeRemover drops connection edges when a note is deleted.
type EdgeRemover interface {
	RemoveNoteEdges(id string) (int, error)
}

// Options wires a Store. Storage and Queue are required.
type Options struct {
	Storage  storage.Provider
	Queue    pending.Queue
	Index    index.NoteIndex // optional id -> path hint
	Edges    EdgeRemover     // optional
	Notifier Notifier        // optional
	// IconsPath is the folder icon side-table file. Empty disables
	// persistence; icons are still derived.
	IconsPath string
	// DefaultFolder receives new and orphaned notes. Empty means inbox.
	DefaultFolder string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Store is the document store. Mutations are serialized; reads may run
// alongside each other.
type Store struct {
	mu       sync.RWMutex
	fs       storage.Provider
	queue    pending.Queue
	idx      index.NoteIndex
	edges    EdgeRemover
	notifier Notifier
	icons    *iconTable
	inbox    string
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a store from opts.
func New(opts Options) (*Store, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("docstore: storage is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("docstore: pending queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	inbox, err := folderpath.Sanitize(opts.DefaultFolder)
	if err != nil {
		return nil, err
	}
	if inbox == "" {
		inbox = folderpath.Default
	}
	return &Store{
		fs:       opts.Storage,
		queue:    opts.Queue,
		idx:      opts.Index,
		edges:    opts.Edges,
		notifier: opts.Notifier,
		icons:    newIconTable(opts.IconsPath),
		inbox:    inbox,
		logger:   logger,
		now:      now,
	}, nil
}

// Queue exposes the pending queue the store enqueues into.
func (s *Store) Queue() pending.Queue { return s.queue }

// Create writes a new raw note into the default folder.
func (s *Store) Create(ctx context.Context, content string) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, err := s.allocateID(ctx, now)
	if err != nil {
		return nil, err
	}
	stamp := now.UTC()
	meta := models.Metadata{
		ID:         id,
		Created:    stamp,
		Updated:    &stamp,
		FolderPath: s.inbox,
		Status:     models.StatusRaw,
	}
	note := &models.Note{Metadata: meta, Content: strings.TrimSpace(content)}
	rel := notePath(meta.FolderPath, id)
	if err := s.write(rel, note); err != nil {
		return nil, err
	}
	s.ensureIcons(meta.FolderPath)
	note.FilePath = rel
	s.logger.Info("note created", slog.String("note_id", id))
	s.notify(models.EventNotesUpdated)
	return note, nil
}

// allocateID returns a fresh "YYYYMMDD-HHMMSS-xxxxxxxx" id that no existing
// note uses.
func (s *Store) allocateID(ctx context.Context, now time.Time) (string, error) {
	prefix := now.Format("20060102-150405")
	for attempt := 0; attempt < 16; attempt++ {
		id := prefix + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
		_, _, err := s.locate(ctx, id)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("docstore: could not allocate a unique note id")
}

// Get returns the note with id wherever it currently lives.
func (s *Store) Get(ctx context.Context, id string) (*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, note, err := s.locate(ctx, id)
	return note, err
}

// Exists reports whether a note with id is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// List returns every note in the tree, newest first. Unreadable files are
// skipped.
func (s *Store) List(ctx context.Context) ([]models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listUnder(ctx, "")
}

func (s *Store) listUnder(ctx context.Context, dir string) ([]models.Note, error) {
	files, err := s.fs.List(dir)
	if err != nil {
		return nil, err
	}
	notes := make([]models.Note, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		note, err := s.readNote(f.Path)
		if err != nil {
			s.logger.Warn("skipping unreadable note", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		notes = append(notes, *note)
	}
	sort.SliceStable(notes, func(i, j int) bool {
		ci, cj := notes[i].Metadata.Created, notes[j].Metadata.Created
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return notes[i].Metadata.ID > notes[j].Metadata.ID
	})
	return notes, nil
}

// locate finds the file holding id. The index is consulted first; when it
// is missing or stale the tree is rescanned and the index refreshed.
func (s *Store) locate(ctx context.Context, id string) (string, *models.Note, error) {
	if !validID(id) {
		return "", nil, fmt.Errorf("note %q: %w", id, apperr.ErrNotFound)
	}

	if s.idx != nil {
		if rel, err := s.idx.Locate(id); err == nil && rel != "" {
			if note, err := s.readNote(rel); err == nil && note.ID() == id {
				return rel, note, nil
			}
		}
	}

	files, err := s.fs.List("")
	if err != nil {
		return "", nil, err
	}
	// Files are named after their id; only fall back to parsing every file
	// when no name matches.
	want := id + ".md"
	for _, f := range files {
		if path.Base(f.Path) != want {
			continue
		}
		if note, err := s.readNote(f.Path); err == nil && note.ID() == id {
			s.reindex(f.Path)
			return f.Path, note, nil
		}
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		if path.Base(f.Path) == want {
			continue
		}
		if note, err := s.readNote(f.Path); err == nil && note.ID() == id {
			s.reindex(f.Path)
			return f.Path, note, nil
		}
	}
	return "", nil, fmt.Errorf("note %q: %w", id, apperr.ErrNotFound)
}

// readNote parses the file at rel. The folder path always reflects the
// physical directory and a missing id falls back to the file stem.
func (s *Store) readNote(rel string) (*models.Note, error) {
	data, err := s.fs.Read(rel)
	if err != nil {
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	meta := res.Metadata
	if meta.ID == "" {
		meta.ID = strings.TrimSuffix(path.Base(rel), ".md")
	}
	meta.FolderPath = folderOf(rel)
	return &models.Note{Metadata: meta, Content: res.Content, FilePath: rel}, nil
}

func (s *Store) write(rel string, note *models.Note) error {
	data, err := parser.Render(note.Metadata, note.Content)
	if err != nil {
		return err
	}
	if err := s.fs.Write(rel, data); err != nil {
		return apperr.WriteFailed("docstore: write note", err)
	}
	s.reindexData(rel, data)
	return nil
}

func (s *Store) reindex(rel string) {
	if s.idx == nil {
		return
	}
	data, err := s.fs.Read(rel)
	if err != nil {
		return
	}
	s.reindexData(rel, data)
}

func (s *Store) reindexData(rel string, data []byte) {
	if s.idx == nil {
		return
	}
	if err := index.IndexFile(s.idx, rel, data); err != nil {
		s.logger.Warn("index update failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

func (s *Store) notify(event string) {
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
}

func notePath(folder, id string) string {
	if folder == "" {
		return id + ".md"
	}
	return folder + "/" + id + ".md"
}

func folderOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}

// validID rejects ids that cannot name a single file.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`+"\x00")
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
