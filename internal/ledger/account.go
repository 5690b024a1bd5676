// Package ledger holds the event-sourced chart of account aggregate and its command service.
package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Account is one chart of account entry. All state changes go through Raise and the fold in when.
type Account struct {
	root eventsource.Root[Event]
	now  func() time.Time

	id                 AccountID
	tenantID           TenantID
	code               AccountCode
	name               string
	typ                AccountType
	parentID           AccountID
	currency           money.Currency
	balance            money.Money
	active             bool
	children           []AccountID
	capabilities       Capabilities
	deactivationReason string
	createdAt          time.Time
	updatedAt          time.Time
}

// ParentView is the slice of a parent account needed for hierarchy checks.
type ParentView struct {
	ID       AccountID
	TenantID TenantID
	Code     AccountCode
	Type     AccountType
	Currency money.Currency
	Active   bool
}

// State is a comparable snapshot of an account.
type State struct {
	ID                 AccountID
	TenantID           TenantID
	Code               AccountCode
	Name               string
	Type               AccountType
	ParentID           AccountID
	Currency           money.Currency
	Balance            money.Money
	Active             bool
	Children           []AccountID
	Capabilities       Capabilities
	DeactivationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            eventsource.Version
}

func newAccount() *Account {
	a := &Account{now: func() time.Time { return time.Now().UTC() }}
	a.root.Bind(a.when)
	return a
}

// Rehydrate rebuilds an account from its persisted history without validation.
func Rehydrate(history []Event) *Account {
	a := newAccount()
	a.root.LoadFromHistory(history)
	return a
}

// Create validates cmd and returns a new active account with a zero balance and one
// uncommitted AccountCreated event. parent is required when cmd.ParentID is set.
func Create(cmd CreateAccount, parent *ParentView, clock func() time.Time) (*Account, error) {
	const op = "create"
	cmd.Name = strings.TrimSpace(cmd.Name)
	if err := validateCommand(op, cmd.AccountID, cmd); err != nil {
		return nil, err
	}
	code, err := ParseAccountCode(cmd.Code)
	if err != nil {
		le := err.(*Error)
		le.Op, le.AccountID = op, cmd.AccountID
		return nil, le
	}
	id := cmd.AccountID
	if id == "" {
		id = AccountID(uuid.NewString())
	}
	if err := checkCreateHierarchy(id, cmd, code, parent); err != nil {
		return nil, err
	}

	a := newAccount()
	if clock != nil {
		a.now = clock
	}
	a.root.Raise(AccountCreated{
		EventMeta:    a.meta(id, cmd.TenantID),
		Code:         code,
		Name:         cmd.Name,
		Type:         cmd.Type,
		ParentID:     cmd.ParentID,
		Currency:     cmd.Currency,
		Capabilities: cmd.Capabilities,
	})
	return a, nil
}

func checkCreateHierarchy(id AccountID, cmd CreateAccount, code AccountCode, parent *ParentView) error {
	const op = "create"
	if cmd.ParentID == "" {
		if parent != nil {
			return newError(KindHierarchy, op, id, "parent %s supplied without a parent id", parent.ID)
		}
		return nil
	}
	if cmd.ParentID == id {
		return newError(KindHierarchy, op, id, "account cannot be its own parent")
	}
	if parent == nil || parent.ID != cmd.ParentID {
		return newError(KindHierarchy, op, id, "parent %s could not be resolved", cmd.ParentID)
	}
	if err := checkParent(op, id, cmd.TenantID, cmd.Type, cmd.Currency, *parent); err != nil {
		return err
	}
	if !code.IsSubCodeOf(parent.Code) {
		return newError(KindHierarchy, op, id, "code %s is not below parent code %s", code, parent.Code)
	}
	return nil
}

func checkParent(op string, id AccountID, tenant TenantID, typ AccountType, cur money.Currency, parent ParentView) error {
	switch {
	case !parent.Active:
		return newError(KindHierarchy, op, id, "parent %s is inactive", parent.ID)
	case parent.TenantID != tenant:
		return newError(KindHierarchy, op, id, "parent %s belongs to another tenant", parent.ID)
	case parent.Type != typ:
		return newError(KindHierarchy, op, id, "parent type %s differs from %s", parent.Type, typ)
	case parent.Currency != cur:
		return newError(KindHierarchy, op, id, "parent currency %s differs from %s", parent.Currency, cur)
	}
	return nil
}

// Debit posts amount to the debit side.
func (a *Account) Debit(amount money.Money) error {
	return a.post("debit", SideDebit, amount)
}

// Credit posts amount to the credit side.
func (a *Account) Credit(amount money.Money) error {
	return a.post("credit", SideCredit, amount)
}

// Post dispatches to Debit or Credit.
func (a *Account) Post(side Side, amount money.Money) error {
	switch side {
	case SideDebit:
		return a.Debit(amount)
	case SideCredit:
		return a.Credit(amount)
	default:
		return newError(KindValidation, "post", a.id, "unknown side %q", side)
	}
}

func (a *Account) post(op string, side Side, amount money.Money) error {
	if amount.Currency() != a.currency {
		return newError(KindCurrencyMismatch, op, a.id, "amount in %s, account in %s", amount.Currency(), a.currency)
	}
	if !amount.IsPositive() {
		return newError(KindValidation, op, a.id, "amount must be positive, got %s", amount)
	}
	if !a.active {
		return newError(KindInactive, op, a.id, "account is inactive")
	}
	next, err := applySide(a.typ, side, a.balance, amount)
	if err != nil {
		return &Error{Kind: KindCurrencyMismatch, Op: op, AccountID: a.id, Message: err.Error(), Cause: err}
	}
	if next.IsNegative() && !a.capabilities.Overdraft {
		return newError(KindInsufficientBalance, op, a.id, "balance %s cannot cover %s", a.balance, amount)
	}
	a.root.Raise(BalanceUpdated{
		EventMeta: a.meta(a.id, a.tenantID),
		Side:      side,
		Amount:    amount,
		Previous:  a.balance,
		New:       next,
	})
	return nil
}

// applySide is the normal balance rule: Asset and Expense grow on debit,
// Liability, Equity and Revenue grow on credit.
func applySide(typ AccountType, side Side, balance, amount money.Money) (money.Money, error) {
	var increases bool
	switch typ {
	case AccountTypeAsset, AccountTypeExpense:
		increases = side == SideDebit
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		increases = side == SideCredit
	default:
		panic("ledger: unknown account type " + string(typ))
	}
	if increases {
		return balance.Add(amount)
	}
	return balance.Subtract(amount)
}

// Deactivate retires the account. It must be active, childless and at zero balance.
func (a *Account) Deactivate(reason string) error {
	const op = "deactivate"
	switch {
	case !a.active:
		return newError(KindInactive, op, a.id, "account is already inactive")
	case len(a.children) > 0:
		return newError(KindHasActiveChildren, op, a.id, "account has %d active children", len(a.children))
	case !a.balance.IsZero():
		return newError(KindNonZeroBalance, op, a.id, "balance is %s", a.balance)
	}
	a.root.Raise(AccountDeactivated{
		EventMeta: a.meta(a.id, a.tenantID),
		Reason:    strings.TrimSpace(reason),
	})
	return nil
}

// Rename changes the display name of an active account.
func (a *Account) Rename(name string) error {
	const op = "rename"
	name = strings.TrimSpace(name)
	switch {
	case !a.active:
		return newError(KindInactive, op, a.id, "account is inactive")
	case name == "" || len(name) > 200:
		return newError(KindValidation, op, a.id, "name must be 1-200 characters")
	case name == a.name:
		return newError(KindValidation, op, a.id, "name is unchanged")
	}
	a.root.Raise(AccountRenamed{
		EventMeta: a.meta(a.id, a.tenantID),
		OldName:   a.name,
		NewName:   name,
	})
	return nil
}

// Reparent moves an active account. parent must describe parentID, or be nil when
// parentID is empty. The account code must sit below the new parent's code, which
// also keeps an account from moving under one of its own descendants.
func (a *Account) Reparent(parentID AccountID, parent *ParentView) error {
	const op = "reparent"
	switch {
	case !a.active:
		return newError(KindInactive, op, a.id, "account is inactive")
	case parentID == a.id:
		return newError(KindValidation, op, a.id, "account cannot be its own parent")
	case parentID == a.parentID:
		return newError(KindValidation, op, a.id, "parent is unchanged")
	}
	if parentID != "" {
		if parent == nil || parent.ID != parentID {
			return newError(KindHierarchy, op, a.id, "parent %s could not be resolved", parentID)
		}
		if err := checkParent(op, a.id, a.tenantID, a.typ, a.currency, *parent); err != nil {
			return err
		}
		if !a.code.IsSubCodeOf(parent.Code) {
			return newError(KindHierarchy, op, a.id, "code %s is not below parent code %s", a.code, parent.Code)
		}
	}
	a.root.Raise(AccountReparented{
		EventMeta:   a.meta(a.id, a.tenantID),
		OldParentID: a.parentID,
		NewParentID: parentID,
	})
	return nil
}

// AttachChild records childID as an active child.
func (a *Account) AttachChild(childID AccountID) error {
	const op = "attach_child"
	switch {
	case !a.active:
		return newError(KindInactive, op, a.id, "account is inactive")
	case childID == "" || childID == a.id:
		return newError(KindValidation, op, a.id, "invalid child id %q", childID)
	case slices.Contains(a.children, childID):
		return newError(KindValidation, op, a.id, "child %s already attached", childID)
	}
	a.root.Raise(ChildAttached{EventMeta: a.meta(a.id, a.tenantID), ChildID: childID})
	return nil
}

// DetachChild removes childID from the active children.
func (a *Account) DetachChild(childID AccountID) error {
	if !slices.Contains(a.children, childID) {
		return newError(KindHierarchy, "detach_child", a.id, "%s is not a child", childID)
	}
	a.root.Raise(ChildDetached{EventMeta: a.meta(a.id, a.tenantID), ChildID: childID})
	return nil
}

func (a *Account) meta(id AccountID, tenant TenantID) EventMeta {
	return EventMeta{AccountID: id, TenantID: tenant, OccurredAt: a.now()}
}

func (a *Account) when(e Event) {
	switch ev := e.(type) {
	case AccountCreated:
		a.id = ev.AccountID
		a.tenantID = ev.TenantID
		a.code = ev.Code
		a.name = ev.Name
		a.typ = ev.Type
		a.parentID = ev.ParentID
		a.currency = ev.Currency
		a.balance = money.Zero(ev.Currency)
		a.active = true
		a.capabilities = ev.Capabilities
		a.createdAt = ev.OccurredAt
	case BalanceUpdated:
		a.balance = ev.New
	case AccountDeactivated:
		a.active = false
		a.deactivationReason = ev.Reason
	case AccountRenamed:
		a.name = ev.NewName
	case AccountReparented:
		a.parentID = ev.NewParentID
	case ChildAttached:
		a.children = append(a.children, ev.ChildID)
	case ChildDetached:
		a.children = slices.DeleteFunc(a.children, func(id AccountID) bool { return id == ev.ChildID })
	default:
		panic(eventsource.UnknownEventError{Aggregate: AggregateType, Event: e})
	}
	a.updatedAt = e.Metadata().OccurredAt
}

// SetClock replaces the timestamp source for new events.
func (a *Account) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

func (a *Account) ID() AccountID                         { return a.id }
func (a *Account) TenantID() TenantID                    { return a.tenantID }
func (a *Account) Code() AccountCode                     { return a.code }
func (a *Account) Name() string                          { return a.name }
func (a *Account) Type() AccountType                     { return a.typ }
func (a *Account) ParentID() AccountID                   { return a.parentID }
func (a *Account) Currency() money.Currency              { return a.currency }
func (a *Account) Balance() money.Money                  { return a.balance }
func (a *Account) Active() bool                          { return a.active }
func (a *Account) Capabilities() Capabilities            { return a.capabilities }
func (a *Account) Children() []AccountID                 { return slices.Clone(a.children) }
func (a *Account) Version() eventsource.Version          { return a.root.Version() }
func (a *Account) CommittedVersion() eventsource.Version { return a.root.CommittedVersion() }
func (a *Account) UncommittedEvents() []Event            { return a.root.UncommittedEvents() }
func (a *Account) MarkEventsAsCommitted()                { a.root.MarkEventsAsCommitted() }
func (a *Account) ClearEvents()                          { a.root.ClearEvents() }

// View returns the fields a child needs to validate against this account.
func (a *Account) View() ParentView {
	return ParentView{ID: a.id, TenantID: a.tenantID, Code: a.code, Type: a.typ, Currency: a.currency, Active: a.active}
}

// State snapshots the account.
func (a *Account) State() State {
	return State{
		ID:                 a.id,
		TenantID:           a.tenantID,
		Code:               a.code,
		Name:               a.name,
		Type:               a.typ,
		ParentID:           a.parentID,
		Currency:           a.currency,
		Balance:            a.balance,
		Active:             a.active,
		Children:           a.Children(),
		Capabilities:       a.capabilities,
		DeactivationReason: a.deactivationReason,
		CreatedAt:          a.createdAt,
		UpdatedAt:          a.updatedAt,
		Version:            a.root.Version(),
	}
}
