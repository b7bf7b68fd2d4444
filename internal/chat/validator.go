package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Limits on a single chat message. MaxMessageBytes matches the largest text
// frame the transport is expected to carry.
const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// ErrInvalidMessage is wrapped by every ValidateMessage failure.
var ErrInvalidMessage = errors.New("invalid message")

// ValidateMessage reports whether text may be stored and relayed. The byte
// and encoding checks run before the character count so oversized or
// malformed input is rejected without decoding it.
func ValidateMessage(text string) error {
	switch {
	case strings.TrimSpace(text) == "":
		return invalid("text is empty")
	case len(text) > MaxMessageBytes:
		return invalid("exceeds %d byte limit", MaxMessageBytes)
	case !utf8.ValidString(text):
		return invalid("contains invalid UTF-8")
	case utf8.RuneCountInString(text) > MaxTextChars:
		return invalid("exceeds %d character limit", MaxTextChars)
	case strings.IndexFunc(text, isForbiddenControl) >= 0:
		return invalid("contains control characters")
	}
	return nil
}

// isForbiddenControl allows line breaks and tabs, which clients send for
// multi-line messages.
func isForbiddenControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidMessage}, args...)...)
}
