package services

import (
	"errors"
	"fmt"
)

// Service-level error taxonomy. Handlers translate these into HTTP statuses;
// the message text for credential and token failures is deliberately generic
// so that responses never reveal which check failed.
var (
	// ErrConflict indicates a duplicate username or email at registration.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials covers both unknown identifier and wrong password.
	ErrInvalidCredentials = errors.New("invalid username/email or password")
	// ErrInvalidToken covers any reset-token failure: bad signature, tampering,
	// expiry, or a token whose subject no longer resolves.
	ErrInvalidToken = errors.New("invalid or expired reset token")
)

// MissingFieldError reports the first required loan attribute absent from a
// strict prediction request.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}
