package domain

import (
	"errors"
	"fmt"
)

// Error classes. Callers map them to transport status codes with errors.Is.
var (
	// ErrInvalidInput covers bad scope selection, oversized question requests and malformed answers.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound covers unknown attempts, scopes, users and certificates.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a user touches an attempt they do not own.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict covers resubmission and insufficient points.
	ErrConflict = errors.New("conflict")
)

var (
	ErrAttemptNotFound     = fmt.Errorf("%w: exam attempt not found", ErrNotFound)
	ErrAttemptForbidden    = fmt.Errorf("%w: exam attempt belongs to another user", ErrForbidden)
	ErrAttemptSubmitted    = fmt.Errorf("%w: exam attempt already submitted", ErrConflict)
	ErrScopeNotFound       = fmt.Errorf("%w: scope not found", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrLessonNotFound      = fmt.Errorf("%w: lesson not found", ErrNotFound)
	ErrCertificateNotFound = fmt.Errorf("%w: certificate not found", ErrNotFound)
	ErrScopeRequired       = fmt.Errorf("%w: exactly one of courseId or moduleId is required", ErrInvalidInput)
)

// InsufficientPointsError reports a redemption the user cannot afford.
type InsufficientPointsError struct {
	Current  int
	Required int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: have %d, need %d", e.Current, e.Required)
}

// Is makes the error match ErrConflict.
func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrConflict
}

// InvalidInputf builds an input error with a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
