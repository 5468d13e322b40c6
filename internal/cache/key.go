package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SharedScope is the subject segment for entries not owned by any subject.
const SharedScope = "-"

// Key derives a deterministic cache key from a subject scope and request
// parts. Parts are lower-cased and whitespace-collapsed before joining, so
// logically equal requests ("123 Main St" vs "123  main st") map to the same
// key. The subject segment keeps different subjects' entries from colliding.
func Key(subjectID string, parts ...string) string {
	scope := strings.TrimSpace(subjectID)
	if scope == "" {
		scope = SharedScope
	}

	var builder strings.Builder
	builder.Grow(64)
	builder.WriteString("s=")
	builder.WriteString(scope)
	for _, part := range parts {
		builder.WriteString("|p=")
		builder.WriteString(normalize(part))
	}

	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

// normalize lower-cases and collapses runs of whitespace to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
