package reconcile

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/busline-backend/internal/carts"
)

// ErrLockContention means another worker holds the processing lock. Callers
// report it as payment_processing; it is not a failure.
var ErrLockContention = errors.New("payment reference is already being processed")

// AdapterError wraps a network or auth failure from an external adapter. The
// reference stays non-terminal and the call is safe to retry.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NotFoundError means the invoice source has no invoice for the reference yet.
type NotFoundError struct {
	Reference string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no invoice found for %s", e.Reference)
}

// PurchaseNotCompletedError means the provider answered but did not complete
// the purchase.
type PurchaseNotCompletedError struct {
	PurchaseID  string
	Status      string
	PollOutcome string
}

func (e *PurchaseNotCompletedError) Error() string {
	return fmt.Sprintf("purchase %s not completed (status=%q outcome=%q)", e.PurchaseID, e.Status, e.PollOutcome)
}

// PersistenceError is returned by the cart synchronizer when a store write
// fails.
type PersistenceError = carts.PersistenceError
