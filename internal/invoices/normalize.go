package invoices

import (
	"strings"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

var stateVocabulary = map[string]enums.InvoiceState{
	"paid":       enums.InvoicePaid,
	"done":       enums.InvoicePaid,
	"in_payment": enums.InvoicePaid,
	"completed":  enums.InvoicePaid,
	"settled":    enums.InvoicePaid,
	"succeeded":  enums.InvoicePaid,

	"pending":         enums.InvoiceInProgress,
	"in_progress":     enums.InvoiceInProgress,
	"processing":      enums.InvoiceInProgress,
	"draft":           enums.InvoiceInProgress,
	"open":            enums.InvoiceInProgress,
	"posted":          enums.InvoiceInProgress,
	"not_paid":        enums.InvoiceInProgress,
	"unpaid":          enums.InvoiceInProgress,
	"partial":         enums.InvoiceInProgress,
	"partially_paid":  enums.InvoiceInProgress,
	"payment_pending": enums.InvoiceInProgress,
	"scheduled":       enums.InvoiceInProgress,
	"authorized":      enums.InvoiceInProgress,

	"cancel":    enums.InvoiceCancelled,
	"cancelled": enums.InvoiceCancelled,
	"canceled":  enums.InvoiceCancelled,
	"void":      enums.InvoiceCancelled,
	"voided":    enums.InvoiceCancelled,

	"failed":             enums.InvoiceFailed,
	"reversed":           enums.InvoiceFailed,
	"refunded":           enums.InvoiceFailed,
	"partially_refunded": enums.InvoiceFailed,
	"rejected":           enums.InvoiceFailed,
	"declined":           enums.InvoiceFailed,
	"uncollectible":      enums.InvoiceFailed,
	"error":              enums.InvoiceFailed,
}

// Normalize maps a backend's raw state onto the canonical invoice state.
// Unrecognised values map to UNKNOWN.
func Normalize(raw string) enums.InvoiceState {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if state, ok := stateVocabulary[key]; ok {
		return state
	}
	return enums.InvoiceUnknown
}
