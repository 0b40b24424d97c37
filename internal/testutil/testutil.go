// Package testutil provides shared test helpers for setting up note
// workspaces and index databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/snippets/internal/docstore"
	"github.com/starford/snippets/internal/graph"
	"github.com/starford/snippets/internal/index"
	"github.com/starford/snippets/internal/pending"
	"github.com/starford/snippets/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "snippets-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Workspace is a throwaway notes root with its agent directory.
type Workspace struct {
	Dir      string
	AgentDir string
	FS       *storage.FS
	Queue    *pending.FileQueue
	Graph    *graph.Store
	Index    *index.DB
	Store    *docstore.Store
}

// File returns a path inside the workspace directory.
func (w *Workspace) File(name string) string { return filepath.Join(w.Dir, name) }

// NewWorkspace lays out notes/ and .agent/ below a temp dir and opens a
// document store with a locator index over them. notifier may be nil.
func NewWorkspace(t *testing.T, notifier docstore.Notifier) *Workspace {
	t.Helper()
	dir := t.TempDir()
	w := &Workspace{Dir: dir, AgentDir: filepath.Join(dir, ".agent"), Index: TestDB(t)}

	var err error
	if w.FS, err = storage.NewFS(filepath.Join(dir, "notes")); err != nil {
		t.Fatal(err)
	}
	if w.Queue, err = pending.NewFileQueue(filepath.Join(w.AgentDir, "pending")); err != nil {
		t.Fatal(err)
	}
	var gn graph.Notifier
	if notifier != nil {
		gn = notifier
	}
	w.Graph = graph.New(filepath.Join(w.AgentDir, "connections.json"), gn, nil)
	w.Store, err = docstore.New(docstore.Options{
		Storage:   w.FS,
		Queue:     w.Queue,
		Index:     w.Index,
		Edges:     w.Graph,
		Notifier:  notifier,
		IconsPath: filepath.Join(w.AgentDir, "folder-icons.json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return w
}
