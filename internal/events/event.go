// Package events carries settlement events from the engine to subscribers,
// journals and external brokers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind.
type Type string

const (
	TypeIntentSubmitted    Type = "IntentSubmitted"
	TypeIntentFilled       Type = "IntentFilled"
	TypeIntentCancelled    Type = "IntentCancelled"
	TypeIntentsInvalidated Type = "IntentsInvalidated"
	TypeBatchCommitted     Type = "BatchCommitted"
	TypeBatchSettled       Type = "BatchSettled"
	TypeBatchCancelled     Type = "BatchCancelled"
	TypeSolverRegistered   Type = "SolverRegistered"
	TypeSolverSlashed      Type = "SolverSlashed"
	TypeStakeWithdrawn     Type = "StakeWithdrawn"
	TypeSolverWhitelisted  Type = "SolverWhitelisted"
	TypeParamsUpdated      Type = "ParamsUpdated"
)

// Event is the envelope published for every committed state change.
// Sequence is assigned by the engine and is strictly increasing.
type Event struct {
	ID         string          `json:"id"`
	Sequence   uint64          `json:"sequence"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// New wraps payload in an envelope with a fresh id.
func New(seq uint64, typ Type, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Sequence:   seq,
		Type:       typ,
		OccurredAt: at.UTC(),
		Data:       data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// Marshal encodes the envelope for transports.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing id or type")
	}
	return e, nil
}
