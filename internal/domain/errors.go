package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means an unknown token or id.
	ErrNotFound = errors.New("not found")
	// ErrExpired means the link exists but its lifetime is over.
	ErrExpired = errors.New("link expired")
	// ErrForbidden means the requester does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited means the actor exceeded the budget for the action.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationReason identifies which input rule was broken.
type ValidationReason string

const (
	ReasonInvalidDuration    ValidationReason = "invalid_duration"
	ReasonDisallowedDuration ValidationReason = "disallowed_duration"
	ReasonEmptyContent       ValidationReason = "empty_content"
	ReasonContentTooLong     ValidationReason = "content_too_long"
	ReasonHandleTaken        ValidationReason = "handle_taken"
	ReasonInvalidSection     ValidationReason = "invalid_section"
)

// ValidationError is returned for caller-correctable input problems.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// NewValidationError builds a ValidationError.
func NewValidationError(reason ValidationReason, detail string) error {
	return &ValidationError{Reason: reason, Detail: detail}
}

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
