package ledger

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
)

// Repository persists accounts as event streams.
type Repository struct {
	store eventsource.Store
	codec *Codec
}

// NewRepository binds a store. A nil codec uses NewCodec().
func NewRepository(store eventsource.Store, codec *Codec) *Repository {
	if codec == nil {
		codec = NewCodec()
	}
	return &Repository{store: store, codec: codec}
}

// Save appends the uncommitted events of acct after expected and marks them committed.
// It returns the new stream version to pass to the next Save.
func (r *Repository) Save(ctx context.Context, acct *Account, expected eventsource.Version) (eventsource.Version, error) {
	events := acct.UncommittedEvents()
	if len(events) == 0 {
		return expected, nil
	}
	if acct.CommittedVersion() != expected {
		return 0, fmt.Errorf("%w: account %s loaded at version %d, saving against %d",
			eventsource.ErrConcurrencyConflict, acct.ID(), acct.CommittedVersion(), expected)
	}
	records := make([]eventsource.Record, 0, len(events))
	for i, e := range events {
		rec, err := r.codec.Encode(e, expected+eventsource.Version(i)+1)
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}
	v, err := r.store.Append(ctx, StreamFor(acct.TenantID(), acct.ID()), expected, records)
	if err != nil {
		return 0, fmt.Errorf("ledger: save %s: %w", acct.ID(), err)
	}
	acct.MarkEventsAsCommitted()
	return v, nil
}

// FindByID replays the account's stream. An empty stream, or one owned by another
// tenant or account, yields ErrAccountNotFound.
func (r *Repository) FindByID(ctx context.Context, tenant TenantID, id AccountID) (*Account, eventsource.Version, error) {
	records, err := r.store.Load(ctx, StreamFor(tenant, id))
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: load %s: %w", id, err)
	}
	if len(records) == 0 || !ownedBy(records, tenant, id) {
		return nil, 0, newError(KindNotFound, "find", id, "account not found")
	}
	events, err := r.decodeAll(records)
	if err != nil {
		return nil, 0, err
	}
	acct := Rehydrate(events)
	return acct, acct.Version(), nil
}

// Exists checks the stream without replaying it.
func (r *Repository) Exists(ctx context.Context, tenant TenantID, id AccountID) (bool, error) {
	ok, err := r.store.Exists(ctx, StreamFor(tenant, id))
	if err != nil {
		return false, fmt.Errorf("ledger: exists %s: %w", id, err)
	}
	return ok, nil
}

// History returns the raw records of an account stream. A stream opened by another
// tenant or account yields ErrAccountNotFound.
func (r *Repository) History(ctx context.Context, tenant TenantID, id AccountID) ([]eventsource.Record, error) {
	records, err := r.store.Load(ctx, StreamFor(tenant, id))
	if err != nil {
		return nil, fmt.Errorf("ledger: load %s: %w", id, err)
	}
	if !ownedBy(records, tenant, id) {
		return nil, newError(KindNotFound, "history", id, "account not found")
	}
	return records, nil
}

// ownedBy reports whether the stream was opened by tenant for id. Later records
// drifting from the owner are VerifyHistory findings.
func ownedBy(records []eventsource.Record, tenant TenantID, id AccountID) bool {
	if len(records) == 0 {
		return true
	}
	return records[0].TenantID == string(tenant) && records[0].AggregateID == string(id)
}
