package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // 4KB max payload
	MaxContentChars = 2000 // max character count
)

// ErrValidation is wrapped by every input validation failure so callers can
// classify them with errors.Is.
var ErrValidation = errors.New("invalid input")

// ValidateContent checks that message content meets the requirements: not
// empty, within byte and character limits, and valid UTF-8. Validation runs
// before any mutation is attempted.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: message exceeds %d byte limit", ErrValidation, MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("%w: message exceeds %d character limit", ErrValidation, MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: message contains invalid UTF-8", ErrValidation)
	}
	return nil
}
