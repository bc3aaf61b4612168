package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventTicketConfirmed  OutboxEventType = "ticket_confirmed"
	EventTicketFailed     OutboxEventType = "ticket_failed"
	EventPaymentCancelled OutboxEventType = "payment_cancelled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTicketConfirmed,
	EventTicketFailed,
	EventPaymentCancelled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// WebhookEventName is the public event name sent to webhook subscribers.
func (e OutboxEventType) WebhookEventName() string {
	switch e {
	case EventTicketConfirmed:
		return "payment.confirmed"
	case EventTicketFailed:
		return "payment.failed"
	case EventPaymentCancelled:
		return "payment.cancelled"
	default:
		return "payment.unknown"
	}
}

// OutboxEventTypeFor maps a terminal reconciliation status onto the event
// emitted for it. ok is false for non-terminal statuses.
func OutboxEventTypeFor(status ReconciliationStatus) (OutboxEventType, bool) {
	switch status {
	case ReconciliationConfirmed:
		return EventTicketConfirmed, true
	case ReconciliationPaymentFailed:
		return EventTicketFailed, true
	case ReconciliationCancelled:
		return EventPaymentCancelled, true
	default:
		return "", false
	}
}
