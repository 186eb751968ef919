package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/claude/repsession/internal/models"
)

// Kind names the remote record type a queue item carries.
type Kind string

const (
	KindSet     Kind = "set"
	KindSession Kind = "session"
	KindMetrics Kind = "metrics"
)

// Payload is the body of a queue item. The set of implementations is closed:
// SetPayload, SessionPayload and MetricsPayload.
type Payload interface {
	Kind() Kind
	// RecordID is the id the remote upsert is keyed by.
	RecordID() string
	isPayload()
}

// SetPayload carries a completed work set.
type SetPayload struct {
	Set models.WorkSet
}

// SessionPayload carries a session summary.
type SessionPayload struct {
	Session models.SessionSummary
}

// MetricsPayload carries a metrics snapshot keyed by session.
type MetricsPayload struct {
	Metrics models.MetricsRecord
}

func (SetPayload) Kind() Kind     { return KindSet }
func (SessionPayload) Kind() Kind { return KindSession }
func (MetricsPayload) Kind() Kind { return KindMetrics }

func (p SetPayload) RecordID() string     { return p.Set.ID.String() }
func (p SessionPayload) RecordID() string { return p.Session.ID.String() }
func (p MetricsPayload) RecordID() string { return p.Metrics.SessionID.String() }

func (SetPayload) isPayload()     {}
func (SessionPayload) isPayload() {}
func (MetricsPayload) isPayload() {}

// envelope is the wire form of a Payload: {"kind": ..., "body": ...}.
type envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MarshalPayload encodes p in its tagged envelope.
func MarshalPayload(p Payload) ([]byte, error) {
	var body any
	switch v := p.(type) {
	case SetPayload:
		body = v.Set
	case SessionPayload:
		body = v.Session
	case MetricsPayload:
		body = v.Metrics
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(envelope{Kind: p.Kind(), Body: raw})
}

// UnmarshalPayload decodes a tagged envelope produced by MarshalPayload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding payload envelope: %w", err)
	}

	switch env.Kind {
	case KindSet:
		var p SetPayload
		if err := json.Unmarshal(env.Body, &p.Set); err != nil {
			return nil, fmt.Errorf("decoding set payload: %w", err)
		}
		return p, nil
	case KindSession:
		var p SessionPayload
		if err := json.Unmarshal(env.Body, &p.Session); err != nil {
			return nil, fmt.Errorf("decoding session payload: %w", err)
		}
		return p, nil
	case KindMetrics:
		var p MetricsPayload
		if err := json.Unmarshal(env.Body, &p.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}
