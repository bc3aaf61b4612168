package enums

import "fmt"

// CartStatus is the status written on cart rows and cart documents.
type CartStatus string

const (
	CartStatusPending           CartStatus = "pending"
	CartStatusPaymentProcessing CartStatus = "payment_processing"
	CartStatusPaid              CartStatus = "paid"
	CartStatusConfirmed         CartStatus = "confirmed"
	CartStatusCancelled         CartStatus = "cancelled"
	CartStatusPaymentFailed     CartStatus = "payment_failed"
)

var validCartStatuses = []CartStatus{
	CartStatusPending,
	CartStatusPaymentProcessing,
	CartStatusPaid,
	CartStatusConfirmed,
	CartStatusCancelled,
	CartStatusPaymentFailed,
}

// String implements fmt.Stringer.
func (c CartStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CartStatus.
func (c CartStatus) IsValid() bool {
	for _, candidate := range validCartStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsSettled reports whether the cart already reflects a successful payment.
// Settled carts are never overwritten by a later reconciliation write.
func (c CartStatus) IsSettled() bool {
	return c == CartStatusPaid || c == CartStatusConfirmed
}

// NextCartStatus returns the status a cart should hold after next is applied.
// Settled and cancelled carts keep their status; payment_failed only yields
// to confirmed.
func NextCartStatus(current, next CartStatus) CartStatus {
	switch {
	case current.IsSettled(), current == CartStatusCancelled:
		return current
	case current == CartStatusPaymentFailed && next != CartStatusConfirmed:
		return current
	}
	return next
}

// CartStatusesKeptAgainst lists the stored statuses a conditional write of
// next must leave in place.
func CartStatusesKeptAgainst(next CartStatus) []string {
	out := make([]string, 0, len(validCartStatuses))
	for _, candidate := range validCartStatuses {
		if candidate != next && NextCartStatus(candidate, next) == candidate {
			out = append(out, string(candidate))
		}
	}
	return out
}

// CartStatusFor maps a reconciliation outcome onto the cart vocabulary.
func CartStatusFor(status ReconciliationStatus) CartStatus {
	switch status {
	case ReconciliationConfirmed:
		return CartStatusConfirmed
	case ReconciliationCancelled:
		return CartStatusCancelled
	case ReconciliationPaymentFailed:
		return CartStatusPaymentFailed
	case ReconciliationPaymentProcessing:
		return CartStatusPaymentProcessing
	default:
		return CartStatusPending
	}
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	for _, candidate := range validCartStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart status %q", value)
}
