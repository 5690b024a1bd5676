package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
)

// SchemaVersion is the payload version written for every tag.
const SchemaVersion = 1

// UnknownTagError is returned when a stored record carries a tag this build cannot decode.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("ledger: unknown event tag %q", e.Tag)
}

// Upcaster rewrites a payload from one schema version to the next.
type Upcaster func(payload json.RawMessage) (json.RawMessage, error)

type upcastKey struct {
	tag  string
	from int
}

// Codec maps account events to and from store records.
type Codec struct {
	current   int
	upcasters map[upcastKey]Upcaster
}

// NewCodec builds a codec writing SchemaVersion with no upcasters.
func NewCodec() *Codec {
	return &Codec{current: SchemaVersion, upcasters: make(map[upcastKey]Upcaster)}
}

// RegisterUpcaster installs fn to lift tag payloads from schema version from to from+1.
func (c *Codec) RegisterUpcaster(tag string, from int, fn Upcaster) {
	c.upcasters[upcastKey{tag: tag, from: from}] = fn
}

// Encode wraps e as the record at version v.
func (c *Codec) Encode(e Event, v eventsource.Version) (eventsource.Record, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return eventsource.Record{}, fmt.Errorf("ledger: encode %s: %w", e.EventType(), err)
	}
	m := e.Metadata()
	return eventsource.Record{
		ID:            uuid.New(),
		StreamID:      StreamFor(m.TenantID, m.AccountID),
		AggregateID:   string(m.AccountID),
		AggregateType: AggregateType,
		TenantID:      string(m.TenantID),
		Type:          e.EventType(),
		SchemaVersion: c.current,
		Version:       v,
		Payload:       payload,
		CreatedAt:     m.OccurredAt.UTC(),
	}, nil
}

// Decode turns rec back into an account event, upcasting older payloads first.
func (c *Codec) Decode(rec eventsource.Record) (Event, error) {
	payload := rec.Payload
	schema := rec.SchemaVersion
	if schema == 0 {
		schema = 1
	}
	for ; schema < c.current; schema++ {
		up, ok := c.upcasters[upcastKey{tag: rec.Type, from: schema}]
		if !ok {
			return nil, fmt.Errorf("ledger: no upcaster for %s v%d", rec.Type, schema)
		}
		var err error
		if payload, err = up(payload); err != nil {
			return nil, fmt.Errorf("ledger: upcast %s v%d: %w", rec.Type, schema, err)
		}
	}
	if schema > c.current {
		return nil, fmt.Errorf("ledger: %s schema v%d is newer than v%d", rec.Type, schema, c.current)
	}

	switch rec.Type {
	case TagAccountCreated:
		return decodeAs[AccountCreated](rec.Type, payload)
	case TagBalanceUpdated:
		return decodeAs[BalanceUpdated](rec.Type, payload)
	case TagAccountDeactivated:
		return decodeAs[AccountDeactivated](rec.Type, payload)
	case TagAccountRenamed:
		return decodeAs[AccountRenamed](rec.Type, payload)
	case TagAccountReparented:
		return decodeAs[AccountReparented](rec.Type, payload)
	case TagChildAttached:
		return decodeAs[ChildAttached](rec.Type, payload)
	case TagChildDetached:
		return decodeAs[ChildDetached](rec.Type, payload)
	default:
		return nil, &UnknownTagError{Tag: rec.Type}
	}
}

func decodeAs[T Event](tag string, payload json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", tag, err)
	}
	return ev, nil
}

// StreamFor is the stream holding one account's events.
func StreamFor(tenant TenantID, id AccountID) eventsource.StreamID {
	return eventsource.NewStreamID(string(tenant), AggregateType, string(id))
}
