package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies what produced the event: a trigger kind (poll, sweep,
// event) or an agent performing a manual retry.
type ActorRef struct {
	Source  string `json:"source"`
	AgentID string `json:"agentId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
