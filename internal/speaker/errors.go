package speaker

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the speaker id has no registry entry.
var ErrNotFound = errors.New("speaker not found")

// EmbeddingError wraps failures talking to the embedding backend so callers
// can distinguish extraction problems from registry state problems.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
