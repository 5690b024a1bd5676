package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountStore is the repository contract the Service depends on.
type AccountStore interface {
	Save(ctx context.Context, acct *Account, expected eventsource.Version) (eventsource.Version, error)
	FindByID(ctx context.Context, tenant TenantID, id AccountID) (*Account, eventsource.Version, error)
	Exists(ctx context.Context, tenant TenantID, id AccountID) (bool, error)
	History(ctx context.Context, tenant TenantID, id AccountID) ([]eventsource.Record, error)
}

// AuditPort records committed commands for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Publisher forwards committed events to external consumers. version is the stream
// version after the last event.
type Publisher interface {
	Publish(ctx context.Context, stream eventsource.StreamID, version eventsource.Version, events []Event) error
}

const defaultMaxRetries = 3

// Service runs account commands: load, mutate, save, retrying on concurrency conflicts.
type Service struct {
	repo       AccountStore
	audit      AuditPort
	publisher  Publisher
	logger     *slog.Logger
	metrics    *Metrics
	codec      *Codec
	now        func() time.Time
	maxRetries int
}

// NewService constructs the ledger service. audit and publisher may be nil.
func NewService(repo AccountStore, audit AuditPort, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		audit:      audit,
		publisher:  publisher,
		logger:     logger,
		codec:      NewCodec(),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: defaultMaxRetries,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMaxRetries sets how many times a conflicting command is reloaded and retried.
func (s *Service) WithMaxRetries(n int) {
	if n >= 0 {
		s.maxRetries = n
	}
}

// WithMetrics attaches Prometheus collectors.
func (s *Service) WithMetrics(m *Metrics) {
	s.metrics = m
}

// CreateAccount opens an account and, when it has a parent, attaches it as a child.
func (s *Service) CreateAccount(ctx context.Context, cmd CreateAccount) (*Account, error) {
	const op = "create"
	started := time.Now()

	var parent *ParentView
	if cmd.ParentID != "" {
		p, _, err := s.repo.FindByID(ctx, cmd.TenantID, cmd.ParentID)
		if err != nil {
			if IsKind(err, KindNotFound) {
				err = newError(KindHierarchy, op, cmd.AccountID, "parent %s not found", cmd.ParentID)
			}
			return nil, s.fail(ctx, op, cmd.AccountID, started, err)
		}
		view := p.View()
		parent = &view
	}

	acct, err := Create(cmd, parent, s.now)
	if err != nil {
		return nil, s.fail(ctx, op, cmd.AccountID, started, err)
	}
	exists, err := s.repo.Exists(ctx, acct.TenantID(), acct.ID())
	if err != nil {
		return nil, s.fail(ctx, op, acct.ID(), started, err)
	}
	if exists {
		return nil, s.fail(ctx, op, acct.ID(), started, newError(KindConflict, op, acct.ID(), "account already exists"))
	}

	events := acct.UncommittedEvents()
	if _, err := s.repo.Save(ctx, acct, eventsource.NoStream); err != nil {
		if errors.Is(err, eventsource.ErrConcurrencyConflict) {
			s.metrics.conflict(op)
			err = &Error{Kind: KindConflict, Op: op, AccountID: acct.ID(), Message: "account already exists", Cause: err}
		}
		return nil, s.fail(ctx, op, acct.ID(), started, err)
	}
	s.committed(ctx, op, cmd.Actor, acct, events, started)

	if acct.ParentID() != "" {
		if _, err := s.execute(ctx, "attach_child", cmd.Actor, acct.TenantID(), acct.ParentID(), func(p *Account) error {
			return p.AttachChild(acct.ID())
		}); err != nil {
			return acct, fmt.Errorf("ledger: account %s created but not attached to %s: %w", acct.ID(), acct.ParentID(), err)
		}
	}
	return acct, nil
}

// Post debits or credits an account.
func (s *Service) Post(ctx context.Context, cmd PostAmount) (*Account, error) {
	op := "debit"
	if cmd.Side == SideCredit {
		op = "credit"
	}
	if err := validateCommand(op, cmd.AccountID, cmd); err != nil {
		return nil, s.fail(ctx, op, cmd.AccountID, time.Now(), err)
	}
	return s.execute(ctx, op, cmd.Actor, cmd.TenantID, cmd.AccountID, func(a *Account) error {
		return a.Post(cmd.Side, cmd.Amount)
	})
}

// Debit is Post on the debit side.
func (s *Service) Debit(ctx context.Context, tenant TenantID, id AccountID, amount money.Money, actor string) (*Account, error) {
	return s.Post(ctx, PostAmount{TenantID: tenant, AccountID: id, Side: SideDebit, Amount: amount, Actor: actor})
}

// Credit is Post on the credit side.
func (s *Service) Credit(ctx context.Context, tenant TenantID, id AccountID, amount money.Money, actor string) (*Account, error) {
	return s.Post(ctx, PostAmount{TenantID: tenant, AccountID: id, Side: SideCredit, Amount: amount, Actor: actor})
}

// Deactivate retires an account and detaches it from its parent.
func (s *Service) Deactivate(ctx context.Context, cmd DeactivateAccount) (*Account, error) {
	const op = "deactivate"
	if err := validateCommand(op, cmd.AccountID, cmd); err != nil {
		return nil, s.fail(ctx, op, cmd.AccountID, time.Now(), err)
	}
	acct, err := s.execute(ctx, op, cmd.Actor, cmd.TenantID, cmd.AccountID, func(a *Account) error {
		return a.Deactivate(cmd.Reason)
	})
	if err != nil {
		return nil, err
	}
	if acct.ParentID() != "" {
		s.detach(ctx, cmd.Actor, cmd.TenantID, acct.ParentID(), acct.ID())
	}
	return acct, nil
}

// Rename changes an account's display name.
func (s *Service) Rename(ctx context.Context, cmd RenameAccount) (*Account, error) {
	const op = "rename"
	if err := validateCommand(op, cmd.AccountID, cmd); err != nil {
		return nil, s.fail(ctx, op, cmd.AccountID, time.Now(), err)
	}
	return s.execute(ctx, op, cmd.Actor, cmd.TenantID, cmd.AccountID, func(a *Account) error {
		return a.Rename(cmd.Name)
	})
}

// Reparent moves an account, detaching it from the old parent and attaching it to the new one.
func (s *Service) Reparent(ctx context.Context, cmd ReparentAccount) (*Account, error) {
	const op = "reparent"
	started := time.Now()
	if err := validateCommand(op, cmd.AccountID, cmd); err != nil {
		return nil, s.fail(ctx, op, cmd.AccountID, started, err)
	}
	var parent *ParentView
	if cmd.ParentID != "" && cmd.ParentID != cmd.AccountID {
		p, _, err := s.repo.FindByID(ctx, cmd.TenantID, cmd.ParentID)
		if err != nil {
			if IsKind(err, KindNotFound) {
				err = newError(KindHierarchy, op, cmd.AccountID, "parent %s not found", cmd.ParentID)
			}
			return nil, s.fail(ctx, op, cmd.AccountID, started, err)
		}
		view := p.View()
		parent = &view
	}

	var oldParent AccountID
	acct, err := s.execute(ctx, op, cmd.Actor, cmd.TenantID, cmd.AccountID, func(a *Account) error {
		oldParent = a.ParentID()
		return a.Reparent(cmd.ParentID, parent)
	})
	if err != nil {
		return nil, err
	}
	if oldParent != "" {
		s.detach(ctx, cmd.Actor, cmd.TenantID, oldParent, acct.ID())
	}
	if cmd.ParentID != "" {
		if _, err := s.execute(ctx, "attach_child", cmd.Actor, cmd.TenantID, cmd.ParentID, func(p *Account) error {
			return p.AttachChild(acct.ID())
		}); err != nil {
			return acct, fmt.Errorf("ledger: account %s reparented but not attached to %s: %w", acct.ID(), cmd.ParentID, err)
		}
	}
	return acct, nil
}

// Get loads the current state of an account.
func (s *Service) Get(ctx context.Context, tenant TenantID, id AccountID) (*Account, error) {
	acct, _, err := s.repo.FindByID(ctx, tenant, id)
	return acct, err
}

// Verify replays an account stream and recomputes every balance transition.
func (s *Service) Verify(ctx context.Context, tenant TenantID, id AccountID) (VerifyReport, error) {
	records, err := s.repo.History(ctx, tenant, id)
	if err != nil {
		return VerifyReport{}, err
	}
	if len(records) == 0 {
		return VerifyReport{}, newError(KindNotFound, "verify", id, "account not found")
	}
	return VerifyHistory(s.codec, StreamFor(tenant, id), records)
}

func (s *Service) detach(ctx context.Context, actor string, tenant TenantID, parentID, childID AccountID) {
	_, err := s.execute(ctx, "detach_child", actor, tenant, parentID, func(p *Account) error {
		return p.DetachChild(childID)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "ledger detach child",
			slog.String("parent_id", string(parentID)),
			slog.String("child_id", string(childID)),
			slog.Any("error", err))
	}
}

// execute loads the account, applies mutate and saves, reloading on conflicts.
func (s *Service) execute(ctx context.Context, op, actor string, tenant TenantID, id AccountID, mutate func(*Account) error) (*Account, error) {
	started := time.Now()
	for attempt := 0; ; attempt++ {
		acct, version, err := s.repo.FindByID(ctx, tenant, id)
		if err != nil {
			return nil, s.fail(ctx, op, id, started, err)
		}
		acct.SetClock(s.now)
		if err := mutate(acct); err != nil {
			return nil, s.fail(ctx, op, id, started, err)
		}
		events := acct.UncommittedEvents()
		if _, err := s.repo.Save(ctx, acct, version); err != nil {
			if !errors.Is(err, eventsource.ErrConcurrencyConflict) {
				return nil, s.fail(ctx, op, id, started, err)
			}
			s.metrics.conflict(op)
			if attempt < s.maxRetries {
				s.logger.InfoContext(ctx, "ledger conflict, retrying",
					slog.String("op", op),
					slog.String("account_id", string(id)),
					slog.Int("attempt", attempt+1))
				continue
			}
			return nil, s.fail(ctx, op, id, started, &Error{
				Kind: KindConflict, Op: op, AccountID: id,
				Message: fmt.Sprintf("gave up after %d attempts", attempt+1), Cause: err,
			})
		}
		s.committed(ctx, op, actor, acct, events, started)
		return acct, nil
	}
}

func (s *Service) fail(ctx context.Context, op string, id AccountID, started time.Time, err error) error {
	kind := KindOf(err)
	outcome := outcomeError
	switch kind {
	case KindConflict:
		outcome = outcomeConflict
	case "":
	default:
		outcome = outcomeRejected
	}
	s.metrics.observe(op, outcome, started)
	if kind == "" {
		s.logger.ErrorContext(ctx, "ledger command failed",
			slog.String("op", op), slog.String("account_id", string(id)), slog.Any("error", err))
		return err
	}
	s.logger.WarnContext(ctx, "ledger command rejected",
		slog.String("op", op), slog.String("account_id", string(id)),
		slog.String("kind", string(kind)), slog.Any("error", err))
	return err
}

func (s *Service) committed(ctx context.Context, op, actor string, acct *Account, events []Event, started time.Time) {
	s.metrics.observe(op, outcomeCommitted, started)
	s.logger.DebugContext(ctx, "ledger command committed",
		slog.String("op", op),
		slog.String("account_id", string(acct.ID())),
		slog.Int64("version", int64(acct.Version())),
		slog.Int("events", len(events)))

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, StreamFor(acct.TenantID(), acct.ID()), acct.Version(), events); err != nil {
			s.logger.WarnContext(ctx, "ledger publish", slog.String("account_id", string(acct.ID())), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		meta := map[string]any{
			"version": int64(acct.Version()),
			"events":  eventTags(events),
		}
		if op == "debit" || op == "credit" {
			meta["balance"] = acct.Balance().String()
		}
		if actor == "" {
			actor = shared.ActorFromContext(ctx)
		}
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			TenantID: string(acct.TenantID()),
			Action:   "account." + op,
			Entity:   AggregateType,
			EntityID: string(acct.ID()),
			Meta:     meta,
			At:       s.now(),
		}); err != nil {
			s.logger.WarnContext(ctx, "ledger audit", slog.String("account_id", string(acct.ID())), slog.Any("error", err))
		}
	}
}

func eventTags(events []Event) []string {
	tags := make([]string, len(events))
	for i, e := range events {
		tags[i] = e.EventType()
	}
	return tags
}
