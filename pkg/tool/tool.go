package tool

import (
	"unicode/utf8"

	"github.com/google/uuid"
)

// GenerateUUIDV7 returns a time-ordered id used as primary key for rows.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GenerateTraceID returns a random id for requests that arrive without one.
func GenerateTraceID() string {
	return uuid.NewString()
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
