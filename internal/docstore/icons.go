package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
)

// iconPalette is the fixed set folder icons are drawn from.
var iconPalette = []string{
	"📁", "📂", "🗂️", "📒", "📓", "📔", "📕", "📗",
	"📘", "📙", "🧠", "💡", "📌", "🔖", "🗃️", "✏️",
}

// IconFor maps a folder path onto the palette. Same path, same icon.
func IconFor(folder string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(folder))
	return iconPalette[h.Sum32()%uint32(len(iconPalette))]
}

// iconTable is the cached folder -> icon side-table. Entries are assigned
// once and never rewritten.
type iconTable struct {
	mu      sync.Mutex
	path    string
	loaded  bool
	entries map[string]string
}

func newIconTable(path string) *iconTable {
	return &iconTable{path: path, entries: map[string]string{}}
}

func (t *iconTable) load() {
	if t.loaded {
		return
	}
	t.loaded = true
	if t.path == "" {
		return
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	var m map[string]string
	if json.Unmarshal(data, &m) == nil && m != nil {
		t.entries = m
	}
}

// get returns the cached icon, or the derived one when none is cached yet.
func (t *iconTable) get(folder string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()
	if icon, ok := t.entries[folder]; ok {
		return icon
	}
	return IconFor(folder)
}

// assign caches icons for folders lacking one and reports how many were
// added.
func (t *iconTable) assign(folders ...string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()
	added := 0
	for _, f := range folders {
		if f == "" {
			continue
		}
		if _, ok := t.entries[f]; ok {
			continue
		}
		t.entries[f] = IconFor(f)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, t.save()
}

// drop forgets the icons of folders matched by gone.
func (t *iconTable) drop(gone func(string) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()
	changed := false
	for f := range t.entries {
		if gone(f) {
			delete(t.entries, f)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return t.save()
}

func (t *iconTable) save() error {
	if t.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	if err := atomic.WriteFile(t.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("docstore: write icons: %w", err)
	}
	return nil
}
