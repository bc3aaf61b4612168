package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/metrics"
	"github.com/angelmondragon/busline-backend/pkg/outbox"
	"github.com/angelmondragon/busline-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/busline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/busline-backend/pkg/outbox/registry"
)

const consumerName = "ticket-notifications"

type subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type deduper interface {
	Claim(ctx context.Context, d idempotency.Delivery) (bool, error)
	Release(ctx context.Context, d idempotency.Delivery) error
}

// ConsumerParams wires a Consumer.
type ConsumerParams struct {
	Subscription subscriber
	Idempotency  deduper
	Handlers     []Handler
	Metrics      *metrics.NotificationMetrics
	Logger       *logger.Logger
}

// Consumer fans outcome events out to every handler. Messages are always
// acked. When every handler fails the delivery claim is released so a DLQ
// replay of the same outcome is handled again.
type Consumer struct {
	subscription subscriber
	idempotency  deduper
	handlers     []Handler
	decoders     *registry.DecoderRegistry
	metrics      *metrics.NotificationMetrics
	logg         *logger.Logger
}

func NewConsumer(p ConsumerParams) (*Consumer, error) {
	if p.Subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if p.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(p.Handlers) == 0 {
		return nil, fmt.Errorf("at least one handler required")
	}
	return &Consumer{
		subscription: p.Subscription,
		idempotency:  p.Idempotency,
		handlers:     p.Handlers,
		decoders:     outcomeDecoders(),
		metrics:      p.Metrics,
		logg:         p.Logger,
	}, nil
}

func outcomeDecoders() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.TicketOutcomeEvent](reg, 1,
		enums.EventTicketConfirmed,
		enums.EventTicketFailed,
		enums.EventPaymentCancelled,
	)
	return reg
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		c.Process(ctx, msg.ID, msg.Attributes, msg.Data)
		msg.Ack()
	})
}

// Process decodes one delivery and runs the handlers. It never fails; every
// problem is logged.
func (c *Consumer) Process(ctx context.Context, messageID string, attrs map[string]string, data []byte) {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": string(eventType),
	})

	if !eventType.IsValid() {
		c.logg.Info(logCtx, "skipping unsupported event")
		return
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return
	}
	logCtx = c.logg.WithEventID(logCtx, envelope.EventID)

	version := envelope.Version
	if version == 0 {
		version = 1
	}
	decoded, err := c.decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return
	}
	outcome, ok := decoded.(payloads.TicketOutcomeEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("got %T", decoded))
		return
	}
	logCtx = c.logg.WithReference(logCtx, outcome.Reference)

	delivery := idempotency.Delivery{
		Consumer:  consumerName,
		EventID:   eventID,
		Reference: outcome.Reference,
		EventType: eventType,
	}
	already, err := c.idempotency.Claim(ctx, delivery)
	switch {
	case err != nil:
		c.logg.Error(logCtx, "idempotency check failed, handling anyway", err)
	case already:
		c.logg.Info(logCtx, "outcome already delivered")
		return
	}

	failed := c.dispatch(logCtx, Event{
		ID:         eventID,
		Type:       eventType,
		OccurredAt: envelope.OccurredAt,
		Actor:      envelope.Actor,
		Outcome:    outcome,
	})
	if failed == len(c.handlers) {
		if err := c.idempotency.Release(ctx, delivery); err != nil {
			c.logg.Error(logCtx, "failed to release delivery claim", err)
		}
	}
}

// dispatch runs every handler and returns how many failed.
func (c *Consumer) dispatch(ctx context.Context, evt Event) int {
	var g errgroup.Group
	var failed atomic.Int32
	for _, h := range c.handlers {
		h := h
		g.Go(func() error {
			hctx := c.logg.WithField(ctx, "handler", h.Name())
			if err := runHandler(hctx, h, evt); err != nil {
				failed.Add(1)
				c.metrics.IncHandled(h.Name(), "error")
				c.logg.Error(hctx, "notification handler failed", err)
				return nil
			}
			c.metrics.IncHandled(h.Name(), "ok")
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func runHandler(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, evt)
}
