package ledger

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// AggregateType names the account stream kind inside a StreamID.
const AggregateType = "account"

// Event tags. Changing a payload shape means a new tag or an upcaster, never an edit.
const (
	TagAccountCreated     = "ledger.account.created.v1"
	TagBalanceUpdated     = "ledger.account.balance_updated.v1"
	TagAccountDeactivated = "ledger.account.deactivated.v1"
	TagAccountRenamed     = "ledger.account.renamed.v1"
	TagAccountReparented  = "ledger.account.reparented.v1"
	TagChildAttached      = "ledger.account.child_attached.v1"
	TagChildDetached      = "ledger.account.child_detached.v1"
)

// Event is the closed set of facts an Account can record.
type Event interface {
	eventsource.Event
	Metadata() EventMeta
	isAccountEvent()
}

// EventMeta is carried by every account event.
type EventMeta struct {
	AccountID  AccountID `json:"account_id"`
	TenantID   TenantID  `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Metadata returns the envelope fields.
func (m EventMeta) Metadata() EventMeta { return m }

type AccountCreated struct {
	EventMeta
	Code         AccountCode    `json:"code"`
	Name         string         `json:"name"`
	Type         AccountType    `json:"type"`
	ParentID     AccountID      `json:"parent_id,omitempty"`
	Currency     money.Currency `json:"currency"`
	Capabilities Capabilities   `json:"capabilities"`
}

// BalanceUpdated records one posting with the balance before and after it.
type BalanceUpdated struct {
	EventMeta
	Side     Side        `json:"side"`
	Amount   money.Money `json:"amount"`
	Previous money.Money `json:"previous"`
	New      money.Money `json:"new"`
}

type AccountDeactivated struct {
	EventMeta
	Reason string `json:"reason"`
}

type AccountRenamed struct {
	EventMeta
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// AccountReparented moves the account; an empty ParentID means top level.
type AccountReparented struct {
	EventMeta
	OldParentID AccountID `json:"old_parent_id,omitempty"`
	NewParentID AccountID `json:"new_parent_id,omitempty"`
}

type ChildAttached struct {
	EventMeta
	ChildID AccountID `json:"child_id"`
}

type ChildDetached struct {
	EventMeta
	ChildID AccountID `json:"child_id"`
}

func (AccountCreated) EventType() string     { return TagAccountCreated }
func (BalanceUpdated) EventType() string     { return TagBalanceUpdated }
func (AccountDeactivated) EventType() string { return TagAccountDeactivated }
func (AccountRenamed) EventType() string     { return TagAccountRenamed }
func (AccountReparented) EventType() string  { return TagAccountReparented }
func (ChildAttached) EventType() string      { return TagChildAttached }
func (ChildDetached) EventType() string      { return TagChildDetached }

func (AccountCreated) isAccountEvent()     {}
func (BalanceUpdated) isAccountEvent()     {}
func (AccountDeactivated) isAccountEvent() {}
func (AccountRenamed) isAccountEvent()     {}
func (AccountReparented) isAccountEvent()  {}
func (ChildAttached) isAccountEvent()      {}
func (ChildDetached) isAccountEvent()      {}
