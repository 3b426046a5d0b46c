package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects a malformed submission before any job exists.
	ErrValidation = errors.New("invalid submission")

	// ErrQuotaExceeded rejects a submission over the per-user active-job limit.
	// The count behind it is best-effort: concurrent submissions may briefly
	// exceed the limit, which is an accepted trade for not holding a global lock.
	ErrQuotaExceeded = errors.New("active job quota exceeded")
)

func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
