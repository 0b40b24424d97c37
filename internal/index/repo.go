package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NoteRow represents a row in the notes table.
type NoteRow struct {
	ID         string
	Path       string
	FolderPath string
	Title      string
	Status     string
	Kind       string
	Created    time.Time
	Checksum   string
}

// Upsert inserts or replaces the row for n.ID. Any other row still pointing
// at the same path is dropped first so a rewritten id does not collide.
func (db *DB) Upsert(n NoteRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ? AND id <> ?`, n.Path, n.ID); err != nil {
		return fmt.Errorf("index: clear path: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO notes (id, path, folder_path, title, status, kind, created, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path        = excluded.path,
			folder_path = excluded.folder_path,
			title       = excluded.title,
			status      = excluded.status,
			kind        = excluded.kind,
			created     = excluded.created,
			checksum    = excluded.checksum
	`, n.ID, n.Path, n.FolderPath, n.Title, n.Status, n.Kind, n.Created.UTC(), n.Checksum)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}
	return tx.Commit()
}

// Delete removes the row for id.
func (db *DB) Delete(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return nil
}

// DeleteByPath removes whatever row points at path.
func (db *DB) DeleteByPath(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete path: %w", err)
	}
	return nil
}

// Locate returns the indexed path for id, or "" when the id is unknown.
func (db *DB) Locate(id string) (string, error) {
	var p string
	err := db.conn.QueryRow(`SELECT path FROM notes WHERE id = ?`, id).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: locate: %w", err)
	}
	return p, nil
}

// StatusCounts returns the number of indexed notes per status.
func (db *DB) StatusCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT status, count(*) FROM notes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("index: status counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// AllChecksums returns path -> checksum for every indexed note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
