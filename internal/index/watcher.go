package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/snippets/internal/storage"
)

// Source says which part of the workspace an event came from.
type Source string

const (
	SourceNotes   Source = "notes"
	SourceAgent   Source = "agent"
	SourceMemory  Source = "memory"
	SourceMission Source = "mission"
)

// Event describes one watcher-observed change. For SourceNotes, Path is
// relative to the notes root and Kind is one of "created", "updated",
// "deleted". For the other sources Path is the absolute file name.
type Event struct {
	Source Source
	Kind   string
	Path   string
}

// EventCallback is called after a watcher-driven change.
type EventCallback func(Event)

// Targets lists the workspace locations watched besides the notes root.
// Empty fields are skipped.
type Targets struct {
	AgentDir    string
	MemoryFile  string
	MissionFile string
}

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the notes root and the given targets
// and processes change events until ctx is cancelled. Note changes update the
// index; every change is reported to cb (if non-nil).
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that removes stale
// index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, targets Targets, logger *slog.Logger, cb EventCallback) error {
	if cb == nil {
		cb = func(Event) {}
	}
	root, err := store.Abs("")
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	agentDir := absOrEmpty(targets.AgentDir)
	if agentDir != "" {
		if err := os.MkdirAll(agentDir, 0o755); err == nil {
			if err := addDirsRecursive(w, agentDir); err != nil {
				logger.Warn("watcher: agent dir not watched", slog.String("error", err.Error()))
			}
		}
	}
	// Single files are watched through their parent so atomic replacement
	// (rename over the old inode) is still observed.
	files := map[string]Source{}
	for src, f := range map[Source]string{SourceMemory: targets.MemoryFile, SourceMission: targets.MissionFile} {
		abs := absOrEmpty(f)
		if abs == "" {
			continue
		}
		files[abs] = src
		if err := w.Add(filepath.Dir(abs)); err != nil {
			logger.Warn("watcher: file not watched", slog.String("path", abs), slog.String("error", err.Error()))
		}
	}

	logger.Info("watcher: started", slog.String("root", root))

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcileAfterRename(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if src, ok := files[absPath]; ok {
				cb(Event{Source: src, Kind: opKind(ev.Op), Path: absPath})
				continue
			}

			if agentDir != "" && within(absPath, agentDir) {
				if ev.Op&fsnotify.Create != 0 {
					if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
						_ = addDirsRecursive(w, absPath)
					}
				}
				if !isIndexFile(absPath) {
					cb(Event{Source: SourceAgent, Kind: opKind(ev.Op), Path: absPath})
				}
				continue
			}

			if !within(absPath, root) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Index any .md files already in the new directory.
					indexNewDir(db, store, root, absPath, logger, cb)
					continue
				}
			}

			// Only process .md files from here on.
			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				if idxErr := IndexFile(db, rel, data); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				kind := opKind(ev.Op)
				logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				cb(Event{Source: SourceNotes, Kind: kind, Path: rel})

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteByPath(rel); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				cb(Event{Source: SourceNotes, Kind: "deleted", Path: rel})

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new
				// path will arrive as a separate Create event (if it
				// stays within a watched dir). We delete the old entry
				// immediately and schedule a short reconciliation pass
				// to catch any stragglers.
				if delErr := db.DeleteByPath(rel); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("path", rel))
					cb(Event{Source: SourceNotes, Kind: "deleted", Path: rel})
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func opKind(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "created"
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return "deleted"
	default:
		return "updated"
	}
}

func absOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	return abs
}

func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(os.PathSeparator))
}

// isIndexFile filters out the SQLite files that live in the agent dir.
func isIndexFile(p string) bool {
	for _, suffix := range []string{".db", ".db-wal", ".db-shm", ".db-journal"} {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// reconcileAfterRename does a lightweight sync using batch lookups:
// finds index entries without a corresponding file on disk and removes them,
// and finds on-disk files that are not indexed and indexes them.
func reconcileAfterRename(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	files, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(files))
	for _, f := range files {
		disk[f.Path] = f.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if delErr := db.DeleteByPath(p); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("path", p))
				cb(Event{Source: SourceNotes, Kind: "deleted", Path: p})
			}
		}
	}

	for p, cs := range disk {
		if checksums[p] == cs {
			continue
		}
		data, readErr := store.Read(p)
		if readErr != nil {
			continue
		}
		if idxErr := IndexFile(db, p, data); idxErr == nil {
			logger.Debug("reconcile: indexed new", slog.String("path", p))
			cb(Event{Source: SourceNotes, Kind: "created", Path: p})
		}
	}
}

// indexNewDir indexes any .md files found in a newly created directory.
func indexNewDir(db *DB, store storage.Provider, root, dirPath string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		data, readErr := store.Read(rel)
		if readErr != nil {
			return nil
		}
		if idxErr := IndexFile(db, rel, data); idxErr == nil {
			logger.Debug("watcher: indexed from new dir", slog.String("path", rel))
			cb(Event{Source: SourceNotes, Kind: "created", Path: rel})
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
