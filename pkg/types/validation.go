package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxMessageLength bounds message bodies in characters.
const DefaultMaxMessageLength = 4000

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// IsValidRoomID reports whether id can name a room: 1-128 characters,
// alphanumeric plus underscore, hyphen, dot and colon.
func IsValidRoomID(id string) bool {
	if len(id) < 1 || len(id) > 128 {
		return false
	}
	return roomIDRegex.MatchString(id)
}

// ValidateText checks a message body: non-blank and at most maxLen characters.
// A non-positive maxLen falls back to DefaultMaxMessageLength.
func ValidateText(text string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if strings.TrimSpace(text) == "" {
		return ErrMessageRequired
	}
	if utf8.RuneCountInString(text) > maxLen {
		return ErrMessageTooLong
	}
	return nil
}
