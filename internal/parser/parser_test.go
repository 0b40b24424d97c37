package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/snippets/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\nid: 20260101-090000-abcd\ncreated: 2026-01-01T09:00:00Z\nfolderPath: inbox\nstatus: raw\nthemes:\n  - go\n  - notes\n---\n\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.HasFrontmatter {
		t.Fatal("expected frontmatter")
	}
	if r.Metadata.ID != "20260101-090000-abcd" {
		t.Errorf("id = %q", r.Metadata.ID)
	}
	if r.Metadata.Status != models.StatusRaw {
		t.Errorf("status = %q", r.Metadata.Status)
	}
	if diff := cmp.Diff([]string{"go", "notes"}, r.Metadata.Themes); diff != "" {
		t.Errorf("themes mismatch (-want +got):\n%s", diff)
	}
	if r.Content != "# Hello\nBody text." {
		t.Errorf("content = %q", r.Content)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want Hello", r.Title)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r, err := Parse([]byte("# Just a heading\nSome text.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.HasFrontmatter {
		t.Error("expected no frontmatter")
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q", r.Title)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	r, err := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.HasFrontmatter {
		t.Error("expected invalid YAML to be ignored")
	}
	if !strings.Contains(r.Content, "Body") {
		t.Errorf("content = %q", r.Content)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	started := created.Add(time.Minute)
	meta := models.Metadata{
		ID:         "20260304-050607-0001",
		Created:    created,
		FolderPath: "work/ideas",
		Status:     models.StatusProcessed,
		SuggestedActions: []models.Action{{
			Label:        "Draft email",
			Assignee:     models.AssigneeAgent,
			JobID:        "job-1",
			JobStatus:    models.JobRunning,
			JobStartedAt: &started,
		}},
		Extra: map[string]any{"mood": "sunny"},
	}

	data, err := Render(meta, "  Buy milk  ")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") || !strings.HasSuffix(string(data), "\n\nBuy milk\n") {
		t.Errorf("unexpected layout: %q", data)
	}

	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(meta, r.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if r.Content != "Buy milk" {
		t.Errorf("content = %q", r.Content)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := DeriveTitle(models.Metadata{Title: "FM Title"}, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q", title)
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := DeriveTitle(models.Metadata{}, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q", title)
	}
}
