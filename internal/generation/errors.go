package generation

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindTransient marks failures worth retrying: timeouts, connection
	// resets, 5xx and throttling responses.
	KindTransient ErrorKind = "transient"

	// KindPermanent marks failures that will repeat on every attempt, such as
	// input the backend rejects.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified failure from the generation backend.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation %s error: %s", e.Kind, e.Message)
}

func transientError(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...)}
}

func permanentError(format string, args ...any) *Error {
	return &Error{Kind: KindPermanent, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err should be retried via queue redelivery.
// Unclassified errors count as transient so an unknown failure mode never
// permanently fails a job on its first attempt.
func IsTransient(err error) bool {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Kind == KindTransient
	}
	return true
}
