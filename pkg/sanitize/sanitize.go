package sanitize

import (
	"strings"
	"unicode"
)

// String trims s, cuts it to at most max runes and removes control characters.
// A non-positive max disables the length cap.
func String(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 {
		if runes := []rune(s); len(runes) > max {
			s = string(runes[:max])
		}
	}

	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Ptr applies String to a non-nil pointer and returns a new pointer.
func Ptr(s *string, max int) *string {
	if s == nil {
		return nil
	}
	cleaned := String(*s, max)
	return &cleaned
}
