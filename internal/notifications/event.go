package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/outbox"
	"github.com/angelmondragon/busline-backend/pkg/outbox/payloads"
)

// Event is one decoded outcome delivered to the handlers.
type Event struct {
	ID         uuid.UUID
	Type       enums.OutboxEventType
	OccurredAt time.Time
	Actor      *outbox.ActorRef
	Outcome    payloads.TicketOutcomeEvent
}

// Handler reacts to a terminal reconciliation outcome. Handlers run
// independently; an error in one never affects the others.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function into a named Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, evt Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, evt Event) error { return h.Fn(ctx, evt) }
