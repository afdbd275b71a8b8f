package project

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName indicates a project name that is empty or unsafe after cleaning.
var ErrInvalidName = errors.New("invalid project name")

// MaxNameLength bounds sanitized project names. Names longer than this are
// truncated, which keeps sanitization idempotent.
const MaxNameLength = 64

// SanitizeName cleans a user-supplied project name into a directory-safe
// identifier. Permitted alphabet: letters, digits, '.', '_', '-'. Spaces
// become underscores; every other character is dropped.
//
// Sanitization is a closure: SanitizeName(SanitizeName(x)) == SanitizeName(x).
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
		// Everything else (path separators included) is dropped.
	}

	clean := b.String()
	if len(clean) > MaxNameLength {
		clean = clean[:MaxNameLength]
	}

	if clean == "" {
		return "", fmt.Errorf("%w: empty after cleaning %q", ErrInvalidName, name)
	}
	// Dot-only names alias the projects root or its parent.
	if strings.Trim(clean, ".") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return clean, nil
}
