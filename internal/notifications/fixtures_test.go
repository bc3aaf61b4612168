package notifications

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/outbox/payloads"
)

var fixtureTime = time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)

func confirmedFixture() Event {
	return Event{
		ID:         uuid.MustParse("0b7d3f1e-9c2a-4d5e-8f60-1a2b3c4d5e6f"),
		Type:       enums.EventTicketConfirmed,
		OccurredAt: fixtureTime,
		Outcome: payloads.TicketOutcomeEvent{
			Reference:      "PNR123",
			Status:         enums.ReconciliationConfirmed,
			Source:         enums.TriggerPoll,
			CartID:         "42",
			DocumentID:     "doc-42",
			ProviderCartID: "bb-9",
			PurchaseID:     "p-1",
			PurchaseUUID:   "uuid-1",
			Amount:         decimal.RequireFromString("450.5"),
			Currency:       "MXN",
			BranchID:       "br-1",
			OperatorID:     "op-7",
			PaymentType:    "invoice",
			CustomerEmail:  "rider@example.com",
			CustomerName:   "Rider",
			OccurredAt:     fixtureTime,
		},
	}
}

func failedFixture() Event {
	stage := enums.FailureStagePurchaseCompletion
	return Event{
		ID:         uuid.MustParse("5e4d3c2b-1a09-4f8e-9d7c-6b5a49382716"),
		Type:       enums.EventTicketFailed,
		OccurredAt: fixtureTime,
		Outcome: payloads.TicketOutcomeEvent{
			Reference:      "PNR124",
			Status:         enums.ReconciliationPaymentFailed,
			Source:         enums.TriggerManualRetry,
			AgentID:        "agent-3",
			CartID:         "42",
			ProviderCartID: "bb-9",
			PurchaseID:     "p-1",
			PurchaseUUID:   "uuid-1",
			Amount:         decimal.RequireFromString("450.50"),
			Currency:       "MXN",
			BranchID:       "br-1",
			OperatorID:     "op-7",
			PaymentType:    "invoice",
			FailureStage:   &stage,
			FailureMessage: "provider rejected purchase",
			OccurredAt:     fixtureTime,
		},
	}
}
