package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// ErrNotFound is returned when the invoice source has no invoice for the
// reference. Lookup failures are never reported as ErrNotFound.
var ErrNotFound = errors.New("invoice not found")

// Snapshot is a point-in-time view of an external invoice.
type Snapshot struct {
	Reference  string
	State      enums.InvoiceState
	RawState   string
	Amount     decimal.Decimal
	Currency   string
	Backend    string
	LastSeenAt time.Time
}

// Source fetches invoices from an external system of record.
type Source interface {
	FetchInvoice(ctx context.Context, reference string) (*Snapshot, error)
}

// SourceError wraps transport, auth and protocol failures of a backend.
type SourceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func sourceError(backend, op string, err error) error {
	return &SourceError{Backend: backend, Op: op, Err: err}
}
