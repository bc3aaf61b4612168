package reconcile

import (
	"strings"

	"github.com/angelmondragon/busline-backend/internal/purchases"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// Result is what the trigger that asked for a pass gets back.
type Result struct {
	Reference            string
	Status               enums.PollStatus
	ReconciliationStatus enums.ReconciliationStatus
	InvoiceState         enums.InvoiceState
	PurchaseID           string
	PurchaseUUID         string
	Stage                *enums.FailureStage
	Message              string
}

var completedStatuses = map[string]struct{}{
	"completed": {},
	"booked":    {},
	"confirmed": {},
}

// IsCompleted is the only place a provider answer becomes a ticket. Anything
// not explicitly listed counts as not completed.
func IsCompleted(c *purchases.Completion) bool {
	if c == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(c.PollOutcome), purchases.OutcomeCompleted) {
		return true
	}
	_, ok := completedStatuses[strings.ToLower(strings.TrimSpace(c.Status))]
	return ok
}

// Guidance returns the text front-line agents see for a failure stage.
func Guidance(stage enums.FailureStage) string {
	switch stage {
	case enums.FailureStagePurchaseCreation:
		return "Payment received but the ticket could not be reserved with the bus operator. Review the cart and contact support before charging again."
	case enums.FailureStagePurchaseCompletion:
		return "Payment received and the reservation exists, but the operator did not confirm the ticket. Use the manual retry to complete it."
	case enums.FailureStageCartNotFound:
		return "Payment received but no cart matches this reference. Confirm the reference with the customer and contact support."
	default:
		return ""
	}
}
