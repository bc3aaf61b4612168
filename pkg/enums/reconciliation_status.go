package enums

import "fmt"

// ReconciliationStatus is the durable per-reference outcome stored in the
// payments table and mirrored on cart documents.
type ReconciliationStatus string

const (
	ReconciliationPending           ReconciliationStatus = "pending"
	ReconciliationPaymentProcessing ReconciliationStatus = "payment_processing"
	ReconciliationConfirmed         ReconciliationStatus = "confirmed"
	ReconciliationCancelled         ReconciliationStatus = "cancelled"
	ReconciliationPaymentFailed     ReconciliationStatus = "payment_failed"
	ReconciliationNotFound          ReconciliationStatus = "not_found"
)

var validReconciliationStatuses = []ReconciliationStatus{
	ReconciliationPending,
	ReconciliationPaymentProcessing,
	ReconciliationConfirmed,
	ReconciliationCancelled,
	ReconciliationPaymentFailed,
	ReconciliationNotFound,
}

// String implements fmt.Stringer.
func (s ReconciliationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconciliationStatus.
func (s ReconciliationStatus) IsValid() bool {
	for _, candidate := range validReconciliationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends automatic reconciliation.
func (s ReconciliationStatus) IsTerminal() bool {
	switch s {
	case ReconciliationConfirmed, ReconciliationCancelled, ReconciliationPaymentFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces monotonic progress. Confirmed and cancelled are
// absorbing; payment_failed only advances to confirmed through a manual retry.
func (s ReconciliationStatus) CanTransitionTo(next ReconciliationStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case ReconciliationConfirmed, ReconciliationCancelled:
		return false
	case ReconciliationPaymentFailed:
		return next == ReconciliationConfirmed
	default:
		return next.IsValid()
	}
}

// NextReconciliationStatus returns the status that should be stored when next
// is written over current.
func NextReconciliationStatus(current, next ReconciliationStatus) ReconciliationStatus {
	if current == "" || current.CanTransitionTo(next) {
		return next
	}
	return current
}

// ParseReconciliationStatus converts raw input into a ReconciliationStatus.
func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	for _, candidate := range validReconciliationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation status %q", value)
}
