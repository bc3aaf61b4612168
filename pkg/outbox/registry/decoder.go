package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// ErrNoDecoder is returned when an event type/version pair was never
// registered. Consumers ack these instead of retrying.
var ErrNoDecoder = errors.New("no decoder registered")

type decoderFunc func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps event type and payload version to a decoder.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]decoderFunc)}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mu.Lock()
	r.decoders[decoderKey{eventType, version}] = decoder
	r.mu.Unlock()
}

// RegisterJSON registers a plain JSON decoder into T for every listed event
// type at the given version.
func RegisterJSON[T any](r *DecoderRegistry, version int, eventTypes ...enums.OutboxEventType) {
	decode := func(payload json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	for _, eventType := range eventTypes {
		r.Register(eventType, version, decode)
	}
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[decoderKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decoder(payload)
}
