package enums

// FailureStage records where a paid reference failed to become a ticket.
type FailureStage string

const (
	FailureStagePurchaseCreation   FailureStage = "purchase_creation"
	FailureStagePurchaseCompletion FailureStage = "purchase_completion"
	FailureStageCartNotFound       FailureStage = "cart_not_found"
)

// String implements fmt.Stringer.
func (f FailureStage) String() string {
	return string(f)
}
