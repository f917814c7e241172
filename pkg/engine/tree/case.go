package tree

import (
	"strings"
	"unicode"
)

// SnakeCase converts a camelCase or PascalCase identifier to snake_case by prefixing every
// upper-case rune with an underscore: OperationName -> operation_name, eventDataId -> event_data_id.
// Identifiers that are already snake_case pass through unchanged.
func SnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimLeft(b.String(), "_")
}

// SnakePath applies SnakeCase to every segment of a dotted path.
func SnakePath(path string) string {
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		segs[i] = SnakeCase(seg)
	}
	return strings.Join(segs, ".")
}
