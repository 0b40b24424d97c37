// Package parser reads and writes the frontmatter + Markdown note format.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/snippets/internal/models"
)

const delim = "---"

// Result holds the output of parsing a note file.
type Result struct {
	Metadata models.Metadata
	// HasFrontmatter is false when the file carried no (valid) YAML block.
	HasFrontmatter bool
	Content        string
	Title          string
}

// Parse extracts frontmatter and body from raw note bytes. Content is
// trimmed. A missing or invalid frontmatter block yields zero metadata and
// the whole file as content.
func Parse(data []byte) (*Result, error) {
	block, body, ok := splitFrontmatter(data)

	res := &Result{Content: strings.TrimSpace(body)}
	if ok {
		var meta models.Metadata
		if err := yaml.Unmarshal(block, &meta); err == nil {
			res.Metadata = meta
			res.HasFrontmatter = true
		} else {
			res.Content = strings.TrimSpace(string(data))
		}
	}
	res.Title = DeriveTitle(res.Metadata, res.Content)
	return res, nil
}

// Render serializes metadata and content into the on-disk format.
func Render(meta models.Metadata, content string) ([]byte, error) {
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(fm) + len(content) + 16)
	buf.WriteString(delim + "\n")
	buf.Write(fm)
	buf.WriteString(delim + "\n\n")
	buf.WriteString(strings.TrimSpace(content))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. ok is false when no frontmatter block is present.
func splitFrontmatter(data []byte) (block []byte, body string, ok bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter; treat everything as body.
		return nil, string(data), false
	}

	block = rest[:idx]
	after := rest[idx+1+len(delim):]
	return block, strings.TrimLeft(string(after), "\n\r"), true
}

// DeriveTitle returns the frontmatter title if present, otherwise the first
// H1 heading, otherwise empty string.
func DeriveTitle(meta models.Metadata, body string) string {
	if meta.Title != "" {
		return meta.Title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
