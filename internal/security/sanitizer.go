package security

import (
	"html"
	"regexp"
	"strings"
)

// Sanitizer strips and escapes free-text user input before it's stored or
// echoed back to another participant.
type Sanitizer struct{}

// NewSanitizer creates a new Sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// RemoveNullBytes removes null bytes from input.
// Complexity: O(n) where n is the length of input
func RemoveNullBytes(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}

// TruncateString truncates a string to a maximum length, adding an
// ellipsis if truncated.
// Complexity: O(n) where n is maxLength
func TruncateString(input string, maxLength int) string {
	if len(input) <= maxLength {
		return input
	}

	if maxLength <= 3 {
		return input[:maxLength]
	}

	return input[:maxLength-3] + "..."
}

// SanitizeMessage sanitizes free-text input (room name/description,
// displayName) for storage and broadcast: strips null bytes, collapses
// whitespace, HTML-escapes, and caps length.
// Complexity: O(n) where n is the length of message
func (s *Sanitizer) SanitizeMessage(message string) string {
	sanitized := RemoveNullBytes(message)
	sanitized = regexp.MustCompile(`\s+`).ReplaceAllString(sanitized, " ")
	sanitized = strings.TrimSpace(sanitized)
	sanitized = html.EscapeString(sanitized)

	if len(sanitized) > 5000 {
		sanitized = TruncateString(sanitized, 5000)
	}

	return sanitized
}
