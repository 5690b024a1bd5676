package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

var validate = validator.New()

// CreateAccount opens a new chart of account entry. Tenant ids on every command exclude
// "-account" so a stream key {tenant}-account-{id} names exactly one tenant and account.
type CreateAccount struct {
	AccountID    AccountID `validate:"omitempty,max=64"`
	TenantID     TenantID  `validate:"required,max=64,excludes=-account"`
	Code         string
	Name         string         `validate:"required,max=200"`
	Type         AccountType    `validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Currency     money.Currency `validate:"required,oneof=BDT USD EUR"`
	ParentID     AccountID      `validate:"omitempty,max=64"`
	Capabilities Capabilities
	Actor        string `validate:"max=128"`
}

// PostAmount debits or credits an account.
type PostAmount struct {
	TenantID  TenantID  `validate:"required,excludes=-account"`
	AccountID AccountID `validate:"required"`
	Side      Side      `validate:"required,oneof=DEBIT CREDIT"`
	Amount    money.Money
	Actor     string `validate:"max=128"`
}

// DeactivateAccount retires an account.
type DeactivateAccount struct {
	TenantID  TenantID  `validate:"required,excludes=-account"`
	AccountID AccountID `validate:"required"`
	Reason    string    `validate:"max=500"`
	Actor     string    `validate:"max=128"`
}

// RenameAccount changes the display name.
type RenameAccount struct {
	TenantID  TenantID  `validate:"required,excludes=-account"`
	AccountID AccountID `validate:"required"`
	Name      string    `validate:"required,max=200"`
	Actor     string    `validate:"max=128"`
}

// ReparentAccount moves an account under another parent, or to the top level when ParentID is empty.
type ReparentAccount struct {
	TenantID  TenantID  `validate:"required,excludes=-account"`
	AccountID AccountID `validate:"required"`
	ParentID  AccountID `validate:"omitempty,max=64"`
	Actor     string    `validate:"max=128"`
}

func validateCommand(op string, id AccountID, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Kind: KindValidation, Op: op, AccountID: id, Message: err.Error(), Cause: err}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return &Error{Kind: KindValidation, Op: op, AccountID: id, Message: strings.Join(msgs, "; "), Cause: err}
}
