package ledger

import (
	"fmt"
	"strings"
)

// AccountID identifies a ledger account across tenants.
type AccountID string

// TenantID isolates one tenant's streams from another's.
type TenantID string

// AccountType enumerates chart of account categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// ParseAccountType accepts the type name in any case.
func ParseAccountType(raw string) (AccountType, error) {
	t := AccountType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", newError(KindValidation, "parse type", "", "unknown account type %q", raw)
	}
	return t, nil
}

// Valid reports whether t is one of the five categories.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide is the side on which the balance of t increases.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		return SideCredit
	default:
		panic(fmt.Sprintf("ledger: no normal side for account type %q", t))
	}
}

// Side is a posting direction.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Capabilities are declared at creation and never inferred from the code.
type Capabilities struct {
	// Overdraft lets the balance go below zero.
	Overdraft bool `json:"overdraft,omitempty"`
}
