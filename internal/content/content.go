// Package content checks chat message text before it is accepted:
// structural validation (size, encoding) that rejects the message, and
// marketplace policy screening (off-platform contact sharing, flooding)
// that flags it for review without blocking delivery.
package content

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxMessageBytes caps the raw payload size of a text message.
	MaxMessageBytes = 4096
	// MaxTextChars caps the character count shown in the thread.
	MaxTextChars = 2000
)

// ValidationError describes why a message was rejected. It is safe to
// show to the sender.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "content: " + e.Reason
}

// Validate checks that message text is well formed. Media and order
// messages may carry empty text; callers skip Validate for those.
func Validate(text string) error {
	if len(text) == 0 {
		return &ValidationError{Reason: "message text is empty"}
	}
	if len(text) > MaxMessageBytes {
		return &ValidationError{Reason: fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes)}
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return &ValidationError{Reason: fmt.Sprintf("message exceeds %d character limit", MaxTextChars)}
	}
	if !utf8.ValidString(text) {
		return &ValidationError{Reason: "message contains invalid UTF-8"}
	}
	return nil
}
