package notifications

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/busline-backend/internal/reconcile"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/outbox"
	"github.com/angelmondragon/busline-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// Emitter queues terminal outcomes on the transactional outbox.
type Emitter struct {
	tx     txRunner
	outbox eventEmitter
	logg   *logger.Logger
}

func NewEmitter(tx txRunner, emitter eventEmitter, logg *logger.Logger) (*Emitter, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if emitter == nil {
		return nil, errors.New("outbox service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Emitter{tx: tx, outbox: emitter, logg: logg}, nil
}

// Notify implements reconcile.Notifier. Non-terminal statuses are ignored.
// Confirmed and cancelled outcomes are queued at most once per reference;
// failures are queued every time so each failed attempt reaches operations.
func (e *Emitter) Notify(ctx context.Context, n reconcile.Notification) error {
	eventType, ok := enums.OutboxEventTypeFor(n.Status)
	if !ok {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   outbox.AggregateIDFor(n.Reference),
		Reference:     n.Reference,
		Actor:         &outbox.ActorRef{Source: string(n.Source), AgentID: n.AgentID},
		Data:          outcomePayload(n),
		Version:       1,
		OccurredAt:    n.OccurredAt,
	}

	queued := true
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if eventType == enums.EventTicketFailed {
			return e.outbox.Emit(ctx, tx, event)
		}
		var err error
		queued, err = e.outbox.EmitIfNotExists(ctx, tx, event)
		return err
	})
	if err != nil {
		return err
	}
	if !queued {
		e.logg.Info(e.logg.WithField(ctx, "event_type", string(eventType)), "outcome already queued")
	}
	return nil
}

func outcomePayload(n reconcile.Notification) payloads.TicketOutcomeEvent {
	return payloads.TicketOutcomeEvent{
		Reference:      n.Reference,
		Status:         n.Status,
		Source:         n.Source,
		AgentID:        n.AgentID,
		CartID:         n.Cart.CartID,
		DocumentID:     n.Cart.DocumentID,
		ProviderCartID: n.Cart.ProviderCartID,
		PurchaseID:     n.PurchaseID,
		PurchaseUUID:   n.PurchaseUUID,
		Amount:         n.Amount,
		Currency:       n.Currency,
		BranchID:       n.Cart.BranchID,
		OperatorID:     n.Cart.OperatorID,
		PaymentType:    n.Cart.PaymentType,
		CustomerEmail:  n.Cart.CustomerEmail,
		CustomerName:   n.Cart.CustomerName,
		FailureStage:   n.FailureStage,
		FailureMessage: n.FailureMessage,
		OccurredAt:     n.OccurredAt,
	}
}
