// Package security guards file names built from match identifiers.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxNameLen = 128

// SanitizeFilename makes a safe file name from a match identifier. Runs of
// characters other than ASCII letters, digits, dot, underscore or dash become
// one underscore, and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// OutputPath joins dir with the sanitised match name and suffix and checks
// the result does not escape dir.
func OutputPath(dir, match, suffix string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	p := filepath.Join(absDir, SanitizeFilename(match)+suffix)
	rel, err := filepath.Rel(absDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output path for match %q escapes %s", match, dir)
	}
	return p, nil
}
