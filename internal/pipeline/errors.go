package pipeline

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Engine.Process when a previous segment is still
// being processed; the caller should drop the segment.
var ErrBusy = errors.New("pipeline busy")

// TransportError indicates a backend could not be reached at all after
// retries were exhausted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError indicates a backend answered with a non-success status.
type ServiceError struct {
	Op     string
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: service returned %d: %s", e.Op, e.Status, e.Body)
}
