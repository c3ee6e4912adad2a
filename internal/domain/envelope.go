package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the broker payload shared by every exchange. The payload is
// raw JSON so consumers decode into their own schema.
type Envelope struct {
	RoutingKey    string            `json:"routing_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ExpirationMs  int64             `json:"expiration_ms,omitempty"`
	Priority      uint8             `json:"priority,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewEnvelope wraps a payload for publishing under the given routing key.
func NewEnvelope(routingKey string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	return &Envelope{
		RoutingKey: routingKey,
		Payload:    body,
		Headers:    map[string]string{},
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into out.
func (e *Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("envelope: decode payload: %w", err)
	}
	return nil
}
