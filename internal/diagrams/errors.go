package diagrams

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleDiagram indicates a write whose updatedAt precedes the stored version.
	ErrStaleDiagram = errors.New("diagrams: stale diagram")
	// ErrDiagramNotFound indicates no diagram is stored under the id.
	ErrDiagramNotFound = errors.New("diagrams: diagram not found")
)

// ServiceError carries a stable operation.reason code for storage failures.
type ServiceError struct {
	code string
	err  error
}

// NewServiceError builds a ServiceError for operation and reason.
func NewServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
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

func (e *ServiceError) Code() string {
	return e.code
}
