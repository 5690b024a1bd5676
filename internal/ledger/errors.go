package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies ledger failures so callers can branch without parsing messages.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInvalidCode         Kind = "invalid_code"
	KindCurrencyMismatch    Kind = "currency_mismatch"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInactive            Kind = "inactive"
	KindHasActiveChildren   Kind = "has_active_children"
	KindNonZeroBalance      Kind = "non_zero_balance"
	KindHierarchy           Kind = "hierarchy"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
)

// Sentinels usable with errors.Is; any *Error of the same Kind matches.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInvalidCode         = &Error{Kind: KindInvalidCode}
	ErrCurrencyMismatch    = &Error{Kind: KindCurrencyMismatch}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInactive            = &Error{Kind: KindInactive}
	ErrHasActiveChildren   = &Error{Kind: KindHasActiveChildren}
	ErrNonZeroBalance      = &Error{Kind: KindNonZeroBalance}
	ErrHierarchy           = &Error{Kind: KindHierarchy}
	ErrAccountNotFound     = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
)

// Error is the canonical ledger failure.
type Error struct {
	Kind      Kind
	Op        string
	AccountID AccountID
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("ledger")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.AccountID != "" {
		fmt.Fprintf(&b, " [%s]", e.AccountID)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so sentinel comparisons ignore op and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op string, id AccountID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, AccountID: id, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind carried by err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var le *Error
	if !errors.As(err, &le) {
		return ""
	}
	return le.Kind
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
