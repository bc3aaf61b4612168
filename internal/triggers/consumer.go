// Package triggers turns invoice change events from the accounting feed into
// reconciliation passes.
package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/busline-backend/internal/reconcile"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

const referenceAttribute = "reference"

type subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type reconciler interface {
	Reconcile(ctx context.Context, reference string, source enums.TriggerSource) (*reconcile.Result, error)
}

// invoiceEvent is the body published by the accounting feed. Only the
// reference matters; the state is always re-read from the source.
type invoiceEvent struct {
	Reference        string `json:"reference"`
	PaymentReference string `json:"payment_reference"`
}

type ConsumerParams struct {
	Subscription subscriber
	Engine       reconciler
	Logger       *logger.Logger
}

// InvoiceEventConsumer acks every delivery. References whose pass failed are
// picked up again by the scheduled sweep.
type InvoiceEventConsumer struct {
	subscription subscriber
	engine       reconciler
	logg         *logger.Logger
}

func NewInvoiceEventConsumer(p ConsumerParams) (*InvoiceEventConsumer, error) {
	if p.Subscription == nil {
		return nil, fmt.Errorf("invoice events subscription required")
	}
	if p.Engine == nil {
		return nil, fmt.Errorf("reconcile engine required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &InvoiceEventConsumer{
		subscription: p.Subscription,
		engine:       p.Engine,
		logg:         p.Logger,
	}, nil
}

func (c *InvoiceEventConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		c.Process(ctx, msg.ID, msg.Attributes, msg.Data)
		msg.Ack()
	})
}

// Process runs one reconciliation pass for the referenced invoice. It returns
// the pass result for callers that care; failures are logged.
func (c *InvoiceEventConsumer) Process(ctx context.Context, messageID string, attrs map[string]string, data []byte) *reconcile.Result {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	reference, err := ReferenceFrom(attrs, data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping invoice event without reference")
		return nil
	}
	logCtx = c.logg.WithReference(logCtx, reference)

	res, err := c.engine.Reconcile(logCtx, reference, enums.TriggerEvent)
	if err != nil {
		c.logg.Error(logCtx, "invoice event reconciliation failed", err)
		return nil
	}
	c.logg.Info(c.logg.WithField(logCtx, "status", string(res.Status)), "invoice event reconciled")
	return res
}

// ReferenceFrom reads the payment reference from the JSON body, falling back
// to the "reference" message attribute.
func ReferenceFrom(attrs map[string]string, data []byte) (string, error) {
	if len(strings.TrimSpace(string(data))) > 0 {
		var evt invoiceEvent
		if err := json.Unmarshal(data, &evt); err == nil {
			if ref := firstNonEmpty(evt.Reference, evt.PaymentReference); ref != "" {
				return ref, nil
			}
		}
	}
	if ref := strings.TrimSpace(attrs[referenceAttribute]); ref != "" {
		return ref, nil
	}
	return "", fmt.Errorf("no reference in body or attributes")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
