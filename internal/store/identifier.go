package store

import (
	"fmt"
	"strings"
)

// MaxIdentifierLength bounds sanitized table and column names.
const MaxIdentifierLength = 64

// SanitizeIdentifier cleans a user-supplied table or column name into a safe
// SQL identifier. Permitted alphabet: letters, digits, underscore. Spaces and
// hyphens become underscores; every other character is dropped.
//
// Idempotent: sanitizing an already-sanitized identifier is a no-op.
func SanitizeIdentifier(name string) (string, error) {
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-':
			b.WriteByte('_')
		}
	}

	clean := b.String()
	if len(clean) > MaxIdentifierLength {
		clean = clean[:MaxIdentifierLength]
	}
	if clean == "" {
		return "", fmt.Errorf("%w: empty after cleaning %q", ErrInvalidName, name)
	}
	return clean, nil
}

// sanitizeColumns cleans each column name and disambiguates duplicates by
// suffixing (_2, _3, ...), preserving the caller's column order.
func sanitizeColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: at least one column required", ErrInvalidName)
	}

	used := make(map[string]bool, len(columns))
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		clean, err := SanitizeIdentifier(col)
		if err != nil {
			return nil, err
		}
		// Walk the suffix past names already taken, including ones the
		// caller supplied literally (a, a_2, a).
		name := clean
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", clean, n)
		}
		used[name] = true
		out = append(out, name)
	}
	return out, nil
}

// quoteIdent wraps an already-sanitized identifier in double quotes for SQL
// interpolation. Sanitization never lets a quote character through.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, ``) + `"`
}
