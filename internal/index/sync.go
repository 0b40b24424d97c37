package index

import (
	"log/slog"
	"path"
	"strings"

	"github.com/starford/snippets/internal/parser"
	"github.com/starford/snippets/internal/storage"
)

// Sync walks the notes root and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	files, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}

		if checksums[f.Path] == f.Checksum {
			continue
		}

		data, err := store.Read(f.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, f.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", f.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteByPath(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses data stored at rel and upserts its row. A file without an
// id in its frontmatter is indexed under its file stem.
func IndexFile(db NoteIndex, rel string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	id := res.Metadata.ID
	if id == "" {
		id = strings.TrimSuffix(path.Base(rel), ".md")
	}
	folder := path.Dir(rel)
	if folder == "." {
		folder = ""
	}
	return db.Upsert(NoteRow{
		ID:         id,
		Path:       rel,
		FolderPath: folder,
		Title:      res.Title,
		Status:     string(res.Metadata.Status),
		Kind:       res.Metadata.Kind,
		Created:    res.Metadata.Created,
		Checksum:   storage.Checksum(data),
	})
}
