package revisions

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the note or revision does not exist, or the
	// revision is not owned by the given note.
	ErrNotFound = errors.New("revisions: not found")
	// ErrVersionConflict indicates a restore precondition failed because the
	// live note changed since the caller last read it.
	ErrVersionConflict = errors.New("revisions: version conflict")
	// ErrCorruptPayload indicates a stored compressed body cannot be decoded.
	// Recoverable: other revisions of the same note stay readable.
	ErrCorruptPayload = errors.New("revisions: corrupt payload")
)

// ServiceError wraps storage-layer failures with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code attached to the failure.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
