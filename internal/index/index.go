package index

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	Upsert(n NoteRow) error
	Delete(id string) error
	DeleteByPath(path string) error
	Locate(id string) (string, error)
	StatusCounts() (map[string]int, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
