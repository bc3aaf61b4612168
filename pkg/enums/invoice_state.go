package enums

// InvoiceState is the canonical invoice state every invoice source is
// normalized into. Raw provider vocabulary never crosses the adapter boundary.
type InvoiceState string

const (
	InvoicePaid       InvoiceState = "PAID"
	InvoiceInProgress InvoiceState = "IN_PROGRESS"
	InvoiceCancelled  InvoiceState = "CANCELLED"
	InvoiceFailed     InvoiceState = "FAILED"
	InvoiceUnknown    InvoiceState = "UNKNOWN"
)

// String implements fmt.Stringer.
func (s InvoiceState) String() string {
	return string(s)
}
