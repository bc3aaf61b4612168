package payloads

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// TicketOutcomeEvent carries a terminal reconciliation outcome to the
// notification handlers. The same shape backs ticket_confirmed,
// ticket_failed and payment_cancelled.
type TicketOutcomeEvent struct {
	Reference      string                     `json:"reference"`
	Status         enums.ReconciliationStatus `json:"status"`
	Source         enums.TriggerSource        `json:"source"`
	AgentID        string                     `json:"agent_id,omitempty"`
	CartID         string                     `json:"cart_id,omitempty"`
	DocumentID     string                     `json:"document_id,omitempty"`
	ProviderCartID string                     `json:"provider_cart_id,omitempty"`
	PurchaseID     string                     `json:"purchase_id,omitempty"`
	PurchaseUUID   string                     `json:"purchase_uuid,omitempty"`
	Amount         decimal.Decimal            `json:"amount"`
	Currency       string                     `json:"currency,omitempty"`
	BranchID       string                     `json:"branch_id,omitempty"`
	OperatorID     string                     `json:"operator_id,omitempty"`
	PaymentType    string                     `json:"payment_type,omitempty"`
	CustomerEmail  string                     `json:"customer_email,omitempty"`
	CustomerName   string                     `json:"customer_name,omitempty"`
	FailureStage   *enums.FailureStage        `json:"failure_stage,omitempty"`
	FailureMessage string                     `json:"failure_message,omitempty"`
	OccurredAt     time.Time                  `json:"occurred_at"`
}
