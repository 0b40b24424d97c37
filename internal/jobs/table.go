package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/natefinch/atomic"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/models"
)

// tableFile is the on-disk job table.
type tableFile struct {
	Jobs []*models.Job `json:"jobs"`
}

func (t *Tracker) load() error {
	if t.cfg.Path == "" {
		return nil
	}
	data, err := os.ReadFile(t.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobs: read table: %w", err)
	}
	var doc tableFile
	if err := json.Unmarshal(data, &doc); err != nil {
		t.logger.Warn("job table unreadable, starting empty", slog.String("path", t.cfg.Path), slog.String("error", err.Error()))
		return nil
	}
	for _, job := range doc.Jobs {
		if job != nil && job.ID != "" {
			t.jobs[job.ID] = job
		}
	}
	t.logger.Info("job table loaded", slog.Int("jobs", len(t.jobs)), slog.Int("running", t.runningLocked()))
	return nil
}

func (t *Tracker) persist() error {
	if t.cfg.Path == "" {
		return nil
	}
	doc := tableFile{Jobs: make([]*models.Job, 0, len(t.jobs))}
	for _, job := range t.jobs {
		doc.Jobs = append(doc.Jobs, job)
	}
	sort.Slice(doc.Jobs, func(i, j int) bool {
		if !doc.Jobs[i].StartedAt.Equal(doc.Jobs[j].StartedAt) {
			return doc.Jobs[i].StartedAt.Before(doc.Jobs[j].StartedAt)
		}
		return doc.Jobs[i].ID < doc.Jobs[j].ID
	})
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jobs: encode table: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.cfg.Path), 0o755); err != nil {
		return apperr.WriteFailed("jobs: create table dir", err)
	}
	if err := atomic.WriteFile(t.cfg.Path, bytes.NewReader(data)); err != nil {
		return apperr.WriteFailed("jobs: persist table", err)
	}
	return nil
}
