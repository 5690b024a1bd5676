package ledger

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Finding is one inconsistency in a stream.
type Finding struct {
	Version eventsource.Version `json:"version"`
	Tag     string              `json:"tag"`
	Problem string              `json:"problem"`
}

// VerifyReport summarises a stream replay.
type VerifyReport struct {
	Stream   eventsource.StreamID `json:"stream"`
	Events   int                  `json:"events"`
	Version  eventsource.Version  `json:"version"`
	Balance  string               `json:"balance,omitempty"`
	Active   bool                 `json:"active"`
	Findings []Finding            `json:"findings"`
}

// OK reports a stream without findings.
func (r VerifyReport) OK() bool { return len(r.Findings) == 0 }

// VerifyHistory replays records and recomputes every balance transition.
// Unlike FindByID it does not trust the stored New balance; records that cannot be
// decoded are returned as an error.
func VerifyHistory(codec *Codec, stream eventsource.StreamID, records []eventsource.Record) (VerifyReport, error) {
	if codec == nil {
		codec = NewCodec()
	}
	report := VerifyReport{Stream: stream, Events: len(records), Findings: []Finding{}}
	flag := func(rec eventsource.Record, format string, args ...any) {
		report.Findings = append(report.Findings, Finding{Version: rec.Version, Tag: rec.Type, Problem: fmt.Sprintf(format, args...)})
	}

	var (
		created  *AccountCreated
		balance  money.Money
		active   bool
		tenant   string
		children = map[AccountID]bool{}
	)
	for i, rec := range records {
		if want := eventsource.Version(i + 1); rec.Version != want {
			flag(rec, "version %d, want %d", rec.Version, want)
		}
		if rec.StreamID != stream {
			flag(rec, "record belongs to stream %s", rec.StreamID)
		}
		if i == 0 {
			tenant = rec.TenantID
		} else if rec.TenantID != tenant {
			flag(rec, "tenant changed from %s to %s", tenant, rec.TenantID)
		}

		ev, err := codec.Decode(rec)
		if err != nil {
			return report, fmt.Errorf("ledger: verify %s version %d: %w", stream, rec.Version, err)
		}
		if string(ev.Metadata().TenantID) != rec.TenantID {
			flag(rec, "payload tenant %s differs from record tenant %s", ev.Metadata().TenantID, rec.TenantID)
		}
		if created == nil {
			if c, ok := ev.(AccountCreated); ok {
				created = &c
				balance = money.Zero(c.Currency)
				active = true
				continue
			}
			flag(rec, "stream does not start with %s", TagAccountCreated)
			continue
		}

		switch e := ev.(type) {
		case AccountCreated:
			flag(rec, "account created twice")
		case BalanceUpdated:
			if !active {
				flag(rec, "balance changed after deactivation")
			}
			if e.Amount.Currency() != created.Currency {
				flag(rec, "amount currency %s, account currency %s", e.Amount.Currency(), created.Currency)
				continue
			}
			if !e.Amount.IsPositive() {
				flag(rec, "non-positive amount %s", e.Amount)
			}
			if !e.Previous.Equal(balance) {
				flag(rec, "previous balance %s, replayed %s", e.Previous, balance)
			}
			next, err := applySide(created.Type, e.Side, balance, e.Amount)
			if err != nil {
				flag(rec, "%v", err)
				continue
			}
			if !e.New.Equal(next) {
				flag(rec, "new balance %s, recomputed %s", e.New, next)
			}
			if next.IsNegative() && !created.Capabilities.Overdraft {
				flag(rec, "balance %s below zero without overdraft", next)
			}
			balance = next
		case AccountDeactivated:
			if !active {
				flag(rec, "deactivated twice")
			}
			if !balance.IsZero() {
				flag(rec, "deactivated with balance %s", balance)
			}
			active = false
		case AccountRenamed, AccountReparented:
			if !active {
				flag(rec, "metadata changed after deactivation")
			}
		case ChildAttached:
			if children[e.ChildID] {
				flag(rec, "child %s attached twice", e.ChildID)
			}
			children[e.ChildID] = true
		case ChildDetached:
			if !children[e.ChildID] {
				flag(rec, "child %s detached but not attached", e.ChildID)
			}
			delete(children, e.ChildID)
		}
	}
	if len(records) > 0 {
		report.Version = records[len(records)-1].Version
	}
	if created != nil {
		report.Balance = balance.String()
		report.Active = active
	}
	return report, nil
}
