// Package storage defines the notes-root file-system abstraction.
package storage

import "time"

// NoteFile describes one Markdown file found under the notes root.
type NoteFile struct {
	Path     string // '/'-separated, relative to the root
	Checksum string
	ModTime  time.Time
}

// Provider is the interface for note file operations. Every path is
// '/'-separated and relative to the notes root.
type Provider interface {
	// List returns every .md file under dir. A missing dir yields no files.
	List(dir string) ([]NoteFile, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces path with content, creating parents.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error
	// Dirs returns every directory below dir, dir itself excluded.
	Dirs(dir string) ([]string, error)
	// RemoveAll deletes dir and everything in it.
	RemoveAll(dir string) error
	// Exists reports whether path names an existing file or directory.
	Exists(path string) (bool, error)
	// IsDir reports whether path names an existing directory.
	IsDir(path string) (bool, error)
	// HasNotes reports whether any .md file lives under dir, hidden
	// directories included.
	HasNotes(dir string) (bool, error)
	// Abs resolves path to an absolute location on disk.
	Abs(path string) (string, error)
}
