package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/redis"
)

// Delivery identifies one ticket outcome reaching one consumer.
type Delivery struct {
	Consumer  string
	EventID   uuid.UUID
	Reference string
	EventType enums.OutboxEventType
}

// Manager deduplicates outcome deliveries per consumer with Redis SETNX.
//
// A delivery is a duplicate when its event id was claimed before, or when the
// same reference already claimed an event of the same type. Keys:
//
//	bl:idempotency:evt:processed:<consumer>:<event_id>
//	bl:idempotency:outcome:<consumer>:<event_type>:<reference>
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim reports whether d was already handled and otherwise records it. A
// delivery without a reference is only tracked by event id.
func (m *Manager) Claim(ctx context.Context, d Delivery) (bool, error) {
	eventKey, err := m.eventKey(d)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, eventKey, "1", m.ttl)
	if err != nil {
		return false, err
	}
	if !set {
		return true, nil
	}

	outcomeKey, ok := m.outcomeKey(d)
	if !ok {
		return false, nil
	}
	set, err = m.store.SetNX(ctx, outcomeKey, d.EventID.String(), m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release forgets both keys of d so a later redelivery is handled again.
func (m *Manager) Release(ctx context.Context, d Delivery) error {
	eventKey, err := m.eventKey(d)
	if err != nil {
		return err
	}
	keys := []string{eventKey}
	if outcomeKey, ok := m.outcomeKey(d); ok {
		keys = append(keys, outcomeKey)
	}
	return m.store.Del(ctx, keys...)
}

func (m *Manager) eventKey(d Delivery) (string, error) {
	if d.Consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if d.EventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+d.Consumer, d.EventID.String()), nil
}

func (m *Manager) outcomeKey(d Delivery) (string, bool) {
	reference := strings.TrimSpace(d.Reference)
	if reference == "" || d.EventType == "" {
		return "", false
	}
	scope := fmt.Sprintf("outcome:%s:%s", d.Consumer, d.EventType)
	return m.store.IdempotencyKey(scope, reference), true
}
