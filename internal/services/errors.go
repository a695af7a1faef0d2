package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrFatal         = errors.New("fatal failure")
	ErrIntegrity     = errors.New("integrity check failed")
	ErrInvalidState  = errors.New("invalid storage state")
	ErrNoHandler     = errors.New("no handler registered")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
)

var markers = []error{
	ErrTransient,
	ErrFatal,
	ErrIntegrity,
	ErrInvalidState,
	ErrNoHandler,
	ErrConfiguration,
	ErrValidation,
	ErrNotFound,
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether err was tagged as a retryable store or I/O failure.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient)
}

// IsIntegrity reports whether err signals a mismatch between stored counts and
// the files on disk.
func IsIntegrity(err error) bool {
	return err != nil && errors.Is(err, ErrIntegrity)
}

// Message returns the human readable part of err without the marker prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range markers {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) && errors.Is(err, marker) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
