package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength    = 255
	MaxEmailLength   = 320 // RFC 5321
	MaxMessageLength = 100000
)

// ErrEmptyMessage is returned for text that is blank after trimming.
var ErrEmptyMessage = errors.New("message text is empty")

// ValidateName checks a visitor display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if length := utf8.RuneCountInString(name); length > MaxNameLength {
		return fmt.Errorf("name exceeds maximum length of %d characters (got %d)", MaxNameLength, length)
	}
	return nil
}

// ValidateEmail checks length and format. Empty is allowed.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if length := utf8.RuneCountInString(email); length > MaxEmailLength {
		return fmt.Errorf("email exceeds maximum length of %d characters (got %d)", MaxEmailLength, length)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

// ValidateMessageText trims text and checks it is non-empty and within limits.
func ValidateMessageText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return "", fmt.Errorf("message exceeds maximum size of %d bytes (got %d)", MaxMessageLength, len(text))
	}
	return text, nil
}
