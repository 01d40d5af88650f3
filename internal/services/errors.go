package services

import (
	"errors"
	"fmt"

	"github.com/secureflow/backend/internal/store"
)

// Re-exported so controllers only depend on this package.
var (
	ErrNotFound    = store.ErrNotFound
	ErrPersistence = store.ErrPersistence
)

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
