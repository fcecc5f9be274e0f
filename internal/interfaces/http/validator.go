package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxIDLength     = 64
	MaxPromptLength = 50000
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID checks a path id (chatbot, account) is safe to pass on.
func ValidID(s string) bool {
	if s == "" || len(s) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// ValidateLength checks if string is within bounds
func ValidateLength(s string, min, max int) bool {
	l := len(s)
	return l >= min && l <= max
}
