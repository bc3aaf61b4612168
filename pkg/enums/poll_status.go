package enums

// PollStatus is the status reported back to whoever triggered a
// reconciliation pass.
type PollStatus string

const (
	PollAlreadyProcessed  PollStatus = "already_processed"
	PollNotFound          PollStatus = "not_found"
	PollPaymentProcessing PollStatus = "payment_processing"
	PollConfirmed         PollStatus = "confirmed"
	PollCancelled         PollStatus = "cancelled"
	PollPaymentFailed     PollStatus = "payment_failed"
	PollBusbudFailed      PollStatus = "busbud_failed"
	PollUnknown           PollStatus = "unknown"
)

// String implements fmt.Stringer.
func (p PollStatus) String() string {
	return string(p)
}
