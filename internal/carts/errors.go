package carts

import (
	"errors"
	"fmt"
)

// ErrDocumentNotFound is returned by a DocumentStore for a missing document.
var ErrDocumentNotFound = errors.New("cart document not found")

// PersistenceError reports that at least one store write failed. The
// remaining writes were still attempted.
type PersistenceError struct {
	Reference string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting outcome for %s: %v", e.Reference, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
