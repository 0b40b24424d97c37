// Package folderpath validates and normalizes user-supplied folder paths.
//
// A sanitized folder path is relative, '/'-separated, carries no leading or
// trailing slash and contains no segment starting with ".". The empty string
// denotes the notes root.
package folderpath

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/snippets/internal/apperr"
)

// Default is the folder new notes land in and the one removed folders are
// emptied into.
const Default = "inbox"

// Builtins are the folders created at startup that cannot be removed.
var Builtins = []string{"inbox", "knowledge", "actions", "ideas", "journal", "reference"}

// Sanitize normalizes raw or returns an error matching apperr.ErrInvalidPath.
func Sanitize(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", nil
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(p, "/") || filepath.VolumeName(p) != "" || hasDriveLetter(p) {
		return "", fmt.Errorf("%w: absolute path %q", apperr.ErrInvalidPath, raw)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", apperr.ErrInvalidPath, raw)
	}

	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: traversal in %q", apperr.ErrInvalidPath, raw)
		}
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("%w: hidden folder %q in %q", apperr.ErrInvalidPath, part, raw)
		}
		out = append(out, part)
	}
	return strings.Join(out, "/"), nil
}

// hasDriveLetter catches "C:/..." on every platform, not only Windows.
func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsBuiltin reports whether the sanitized path names a protected folder.
func IsBuiltin(p string) bool {
	for _, b := range Builtins {
		if p == b {
			return true
		}
	}
	return false
}

// Within reports whether p equals parent or is nested below it.
// Both arguments must already be sanitized.
func Within(p, parent string) bool {
	if parent == "" {
		return true
	}
	return p == parent || strings.HasPrefix(p, parent+"/")
}

// Name returns the last segment of a sanitized path.
func Name(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
