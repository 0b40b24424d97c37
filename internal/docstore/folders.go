package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/folderpath"
	"github.com/starford/snippets/internal/models"
)

// RemoveResult reports how far a folder removal got.
type RemoveResult struct {
	MovedNotes     int `json:"movedNotes"`
	RemovedFolders int `json:"removedFolders"`
}

// RemoveFolder empties folder into the default folder note by note and then
// deletes the directory subtree. On failure the partial counts are returned
// with the error; moved notes stay moved.
func (s *Store) RemoveFolder(ctx context.Context, folder string) (RemoveResult, error) {
	var res RemoveResult

	clean, err := folderpath.Sanitize(folder)
	if err != nil {
		return res, err
	}
	if clean == "" || folderpath.IsBuiltin(clean) || folderpath.Within(s.inbox, clean) {
		return res, fmt.Errorf("folder %q: %w", clean, apperr.ErrProtectedFolder)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.fs.IsDir(clean)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, fmt.Errorf("folder %q: %w", clean, apperr.ErrNotFound)
	}

	notes, err := s.listUnder(ctx, clean)
	if err != nil {
		return res, err
	}
	inbox := s.inbox
	for _, n := range notes {
		if _, err := s.apply(ctx, n.ID(), models.MetadataPatch{FolderPath: &inbox}, nil); err != nil {
			s.logger.Warn("remove folder: move failed",
				slog.String("folder", clean),
				slog.String("note_id", n.ID()),
				slog.Int("moved", res.MovedNotes),
				slog.String("error", err.Error()))
			return res, err
		}
		res.MovedNotes++
	}

	left, err := s.fs.HasNotes(clean)
	if err != nil {
		return res, err
	}
	if left {
		return res, fmt.Errorf("folder %q still holds notes: %w", clean, apperr.ErrFolderNotEmpty)
	}

	subdirs, err := s.fs.Dirs(clean)
	if err != nil {
		return res, err
	}
	if err := s.fs.RemoveAll(clean); err != nil {
		return res, apperr.WriteFailed("docstore: remove folder", err)
	}
	res.RemovedFolders = 1 + len(subdirs)

	if err := s.icons.drop(func(f string) bool { return folderpath.Within(f, clean) }); err != nil {
		s.logger.Warn("remove folder: icons not updated", slog.String("error", err.Error()))
	}

	s.logger.Info("folder removed",
		slog.String("folder", clean),
		slog.Int("moved_notes", res.MovedNotes),
		slog.Int("removed_folders", res.RemovedFolders))
	s.notify(models.EventNotesUpdated)
	return res, nil
}

// EnsureFolders creates the built-in folders.
func (s *Store) EnsureFolders(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range append([]string{s.inbox}, folderpath.Builtins...) {
		if err := s.fs.MkdirAll(f); err != nil {
			return apperr.WriteFailed("docstore: ensure folders", err)
		}
	}
	return nil
}

// MigrateFolderIcons assigns an icon to every folder lacking one. Existing
// assignments are kept.
func (s *Store) MigrateFolderIcons(ctx context.Context) (int, error) {
	s.mu.RLock()
	dirs, err := s.fs.Dirs("")
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	added, err := s.icons.assign(dirs...)
	if err != nil {
		return added, apperr.WriteFailed("docstore: migrate icons", err)
	}
	if added > 0 {
		s.logger.Info("folder icons assigned", slog.Int("count", added))
	}
	return added, nil
}

// AdoptRootNotes moves notes sitting directly in the notes root into the
// default folder and returns how many were moved.
func (s *Store) AdoptRootNotes(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.fs.List("")
	if err != nil {
		return 0, err
	}
	inbox := s.inbox
	moved := 0
	for _, f := range files {
		if strings.Contains(f.Path, "/") {
			continue
		}
		note, err := s.readNote(f.Path)
		if err != nil {
			s.logger.Warn("adopt: unreadable note", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if _, err := s.apply(ctx, note.ID(), models.MetadataPatch{FolderPath: &inbox}, nil); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// ensureIcons caches icons for folder and its ancestors. Failures are
// logged only.
func (s *Store) ensureIcons(folder string) {
	if folder == "" {
		return
	}
	var chain []string
	for p := folder; p != "." && p != ""; p = path.Dir(p) {
		chain = append(chain, p)
	}
	if _, err := s.icons.assign(chain...); err != nil {
		s.logger.Warn("folder icon not saved", slog.String("folder", folder), slog.String("error", err.Error()))
	}
}

// TreeNode is one entry of the folder/note tree. Folder nodes carry Icon and
// Children; note nodes carry the note fields.
type TreeNode struct {
	Type     string      `json:"type"`
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Icon     string      `json:"icon,omitempty"`
	Children []*TreeNode `json:"children"`
	ID       string      `json:"id,omitempty"`
	Title    string      `json:"title,omitempty"`
	Status   string      `json:"status,omitempty"`
	Kind     string      `json:"kind,omitempty"`
}

// MarshalJSON leaves children off note nodes.
func (n *TreeNode) MarshalJSON() ([]byte, error) {
	type plain TreeNode
	if n.Type == nodeNote {
		return json.Marshal(struct {
			*plain
			Children []*TreeNode `json:"children,omitempty"`
		}{plain: (*plain)(n)})
	}
	return json.Marshal((*plain)(n))
}

const (
	nodeFolder = "folder"
	nodeNote   = "note"
)

// Tree returns the root folder node with every folder and note below it.
// Folders come first, then notes, each sorted by name.
func (s *Store) Tree(ctx context.Context) (*TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := &TreeNode{Type: nodeFolder, Name: "notes", Path: "", Children: []*TreeNode{}}
	folders := map[string]*TreeNode{"": root}

	var ensure func(p string) *TreeNode
	ensure = func(p string) *TreeNode {
		if n, ok := folders[p]; ok {
			return n
		}
		parent := ensure(folderOf(p))
		n := &TreeNode{Type: nodeFolder, Name: folderpath.Name(p), Path: p, Icon: s.icons.get(p), Children: []*TreeNode{}}
		parent.Children = append(parent.Children, n)
		folders[p] = n
		return n
	}

	dirs, err := s.fs.Dirs("")
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		ensure(d)
	}

	notes, err := s.listUnder(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		parent := ensure(n.Metadata.FolderPath)
		parent.Children = append(parent.Children, &TreeNode{
			Type:   nodeNote,
			Name:   path.Base(n.FilePath),
			Path:   n.FilePath,
			ID:     n.ID(),
			Title:  n.Metadata.Title,
			Status: string(n.Metadata.Status),
			Kind:   n.Metadata.Kind,
		})
	}

	sortTree(root)
	return root, nil
}

func sortTree(n *TreeNode) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type != b.Type {
			return a.Type == nodeFolder
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	for _, c := range n.Children {
		if c.Type == nodeFolder {
			sortTree(c)
		}
	}
}
