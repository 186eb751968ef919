package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Item is one pending change awaiting acknowledgment from the remote service.
type Item struct {
	ID         uuid.UUID
	Payload    Payload
	EnqueuedAt time.Time
	Retries    int
}

type itemJSON struct {
	ID         uuid.UUID       `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries"`
}

func (it Item) MarshalJSON() ([]byte, error) {
	p, err := MarshalPayload(it.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(itemJSON{
		ID:         it.ID,
		Payload:    p,
		EnqueuedAt: it.EnqueuedAt,
		Retries:    it.Retries,
	})
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := UnmarshalPayload(raw.Payload)
	if err != nil {
		return fmt.Errorf("item %s: %w", raw.ID, err)
	}
	*it = Item{
		ID:         raw.ID,
		Payload:    p,
		EnqueuedAt: raw.EnqueuedAt,
		Retries:    raw.Retries,
	}
	return nil
}
