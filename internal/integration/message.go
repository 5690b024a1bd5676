package integration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Message is the wire form of one committed account event.
type Message struct {
	Stream     eventsource.StreamID `json:"stream"`
	Version    eventsource.Version  `json:"version"`
	Type       string               `json:"type"`
	TenantID   string               `json:"tenant_id"`
	AccountID  string               `json:"account_id"`
	OccurredAt time.Time            `json:"occurred_at"`
	Payload    json.RawMessage      `json:"payload"`
}

// toMessages numbers events so the last one carries version.
func toMessages(stream eventsource.StreamID, version eventsource.Version, events []ledger.Event) ([]Message, error) {
	first := version - eventsource.Version(len(events)) + 1
	out := make([]Message, 0, len(events))
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("integration: encode %s: %w", e.EventType(), err)
		}
		meta := e.Metadata()
		out = append(out, Message{
			Stream:     stream,
			Version:    first + eventsource.Version(i),
			Type:       e.EventType(),
			TenantID:   string(meta.TenantID),
			AccountID:  string(meta.AccountID),
			OccurredAt: meta.OccurredAt,
			Payload:    payload,
		})
	}
	return out, nil
}
