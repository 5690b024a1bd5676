package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ eventsource.StreamID, _ eventsource.Version, events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

// racingStore lets another writer append to a stream right before the next Append.
type racingStore struct {
	eventsource.Store
	mu     sync.Mutex
	before []func()
}

func (s *racingStore) interleave(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = append(s.before, fn)
}

func (s *racingStore) Append(ctx context.Context, stream eventsource.StreamID, expected eventsource.Version, records []eventsource.Record) (eventsource.Version, error) {
	s.mu.Lock()
	var fn func()
	if len(s.before) > 0 {
		fn, s.before = s.before[0], s.before[1:]
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return s.Store.Append(ctx, stream, expected, records)
}

type serviceFixture struct {
	svc   *Service
	store *racingStore
	// other bypasses the racing hooks.
	other     *Repository
	audit     *recordingAudit
	publisher *recordingPublisher
	registry  *prometheus.Registry
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := &racingStore{Store: eventsource.NewMemoryStore()}
	audit := &recordingAudit{}
	publisher := &recordingPublisher{}
	registry := prometheus.NewRegistry()
	svc := NewService(NewRepository(store, nil), audit, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.WithNow(fixedClock)
	svc.WithMetrics(NewMetrics(registry))
	return &serviceFixture{svc: svc, store: store, other: NewRepository(store.Store, nil), audit: audit, publisher: publisher, registry: registry}
}

func (f *serviceFixture) create(t *testing.T, id AccountID, code string, typ AccountType, parent AccountID) *Account {
	t.Helper()
	acct, err := f.svc.CreateAccount(context.Background(), CreateAccount{
		AccountID: id, TenantID: "tenant-a", Code: code, Name: "Account " + code,
		Type: typ, Currency: money.BDT, ParentID: parent, Actor: "alice",
	})
	require.NoError(t, err)
	return acct
}

func TestServiceCashScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "cash", "1000", AccountTypeAsset, "")

	_, err := f.svc.Debit(ctx, "tenant-a", "cash", bdt(10000), "alice")
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, "tenant-a", "cash", bdt(2000), "alice")
	require.NoError(t, err)
	acct, err := f.svc.Credit(ctx, "tenant-a", "cash", bdt(500), "alice")
	require.NoError(t, err)

	require.True(t, acct.Balance().Equal(bdt(11500)))
	require.Equal(t, eventsource.Version(4), acct.Version())

	reloaded, err := f.svc.Get(ctx, "tenant-a", "cash")
	require.NoError(t, err)
	require.True(t, reloaded.Balance().Equal(bdt(11500)))
	require.Equal(t, eventsource.Version(4), reloaded.Version())

	require.Equal(t, []string{"account.create", "account.debit", "account.debit", "account.credit"}, f.audit.actions())
	require.Len(t, f.publisher.events, 4)
	require.Equal(t, 3.0, testutil.ToFloat64(f.svc.metrics.commands.WithLabelValues("debit", outcomeCommitted))+
		testutil.ToFloat64(f.svc.metrics.commands.WithLabelValues("credit", outcomeCommitted)))

	report, err := f.svc.Verify(ctx, "tenant-a", "cash")
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestServiceRejectsWithoutSideEffects(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "ap", "2000", AccountTypeLiability, "")
	_, err := f.svc.Credit(ctx, "tenant-a", "ap", bdt(1000), "bob")
	require.NoError(t, err)

	_, err = f.svc.Debit(ctx, "tenant-a", "ap", bdt(2000), "bob")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.svc.Post(ctx, PostAmount{TenantID: "tenant-a", AccountID: "ap", Side: SideDebit, Amount: money.FromInt(5, money.EUR)})
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = f.svc.Post(ctx, PostAmount{TenantID: "tenant-a", Side: SideDebit, Amount: bdt(5)})
	require.ErrorIs(t, err, ErrValidation)

	acct, err := f.svc.Get(ctx, "tenant-a", "ap")
	require.NoError(t, err)
	require.True(t, acct.Balance().Equal(bdt(1000)))
	require.Equal(t, eventsource.Version(2), acct.Version())
	require.Len(t, f.publisher.events, 2)
	require.Equal(t, 3.0, testutil.ToFloat64(f.svc.metrics.commands.WithLabelValues("debit", outcomeRejected)))

	_, err = f.svc.Debit(ctx, "tenant-a", "missing", bdt(1), "bob")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestServiceRetriesOnConflict(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "cash", "1000", AccountTypeAsset, "")

	// Another writer lands a debit between our load and our append.
	f.store.interleave(func() {
		other, v, err := f.other.FindByID(ctx, "tenant-a", "cash")
		require.NoError(t, err)
		require.NoError(t, other.Debit(bdt(100)))
		_, err = f.other.Save(ctx, other, v)
		require.NoError(t, err)
	})

	acct, err := f.svc.Debit(ctx, "tenant-a", "cash", bdt(50), "alice")
	require.NoError(t, err)
	require.True(t, acct.Balance().Equal(bdt(150)))
	require.Equal(t, eventsource.Version(3), acct.Version())
	require.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.conflicts.WithLabelValues("debit")))
}

func TestServiceGivesUpAfterMaxRetries(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "cash", "1000", AccountTypeAsset, "")
	f.svc.WithMaxRetries(1)

	for i := 0; i < 2; i++ {
		f.store.interleave(func() {
			other, v, err := f.other.FindByID(ctx, "tenant-a", "cash")
			require.NoError(t, err)
			require.NoError(t, other.Rename(other.Name()+"!"))
			_, err = f.other.Save(ctx, other, v)
			require.NoError(t, err)
		})
	}

	_, err := f.svc.Debit(ctx, "tenant-a", "cash", bdt(50), "alice")
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, err, eventsource.ErrConcurrencyConflict)
	require.Equal(t, 2.0, testutil.ToFloat64(f.svc.metrics.conflicts.WithLabelValues("debit")))

	acct, err := f.svc.Get(ctx, "tenant-a", "cash")
	require.NoError(t, err)
	require.True(t, acct.Balance().IsZero())
}

func TestServiceDomainErrorsAreNotRetried(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "cash", "1000", AccountTypeAsset, "")

	calls := 0
	_, err := f.svc.execute(ctx, "debit", "", "tenant-a", "cash", func(*Account) error {
		calls++
		return newError(KindInsufficientBalance, "debit", "cash", "no funds")
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, 1, calls)
}

func TestServiceConcurrentPostsOnDifferentAccounts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ids := []AccountID{"a1", "a2", "a3", "a4"}
	for _, id := range ids {
		f.create(t, id, "1000", AccountTypeAsset, "")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id AccountID) {
				defer wg.Done()
				_, err := f.svc.Debit(ctx, "tenant-a", id, bdt(1), "load")
				if err != nil && !errors.Is(err, ErrConflict) {
					t.Errorf("debit %s: %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		acct, err := f.svc.Get(ctx, "tenant-a", id)
		require.NoError(t, err)
		require.Equal(t, eventsource.Version(1)+eventsource.Version(acct.Balance().Amount().IntPart()), acct.Version())
	}
}

func TestServiceCreateHierarchy(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "assets", "1000", AccountTypeAsset, "")
	f.create(t, "cash", "1000-01", AccountTypeAsset, "assets")

	parent, err := f.svc.Get(ctx, "tenant-a", "assets")
	require.NoError(t, err)
	require.Equal(t, []AccountID{"cash"}, parent.Children())

	_, err = f.svc.CreateAccount(ctx, CreateAccount{
		AccountID: "bad", TenantID: "tenant-a", Code: "1000-02", Name: "Loan",
		Type: AccountTypeLiability, Currency: money.BDT, ParentID: "assets",
	})
	require.ErrorIs(t, err, ErrHierarchy)

	_, err = f.svc.CreateAccount(ctx, CreateAccount{
		AccountID: "orphan", TenantID: "tenant-a", Code: "1000-03", Name: "Orphan",
		Type: AccountTypeAsset, Currency: money.BDT, ParentID: "nowhere",
	})
	require.ErrorIs(t, err, ErrHierarchy)

	_, err = f.svc.CreateAccount(ctx, CreateAccount{
		AccountID: "cash", TenantID: "tenant-a", Code: "1000-01", Name: "Dup",
		Type: AccountTypeAsset, Currency: money.BDT,
	})
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Deactivate(ctx, DeactivateAccount{TenantID: "tenant-a", AccountID: "assets", Reason: "restructure"})
	require.ErrorIs(t, err, ErrHasActiveChildren)

	_, err = f.svc.Deactivate(ctx, DeactivateAccount{TenantID: "tenant-a", AccountID: "cash", Reason: "restructure"})
	require.NoError(t, err)
	parent, err = f.svc.Get(ctx, "tenant-a", "assets")
	require.NoError(t, err)
	require.Empty(t, parent.Children())

	acct, err := f.svc.Deactivate(ctx, DeactivateAccount{TenantID: "tenant-a", AccountID: "assets", Reason: "restructure"})
	require.NoError(t, err)
	require.False(t, acct.Active())
}

func TestServiceReparentMovesChild(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "a", "1000", AccountTypeAsset, "")
	f.create(t, "b", "1000-01", AccountTypeAsset, "")
	f.create(t, "c", "1000-01-05", AccountTypeAsset, "a")
	f.create(t, "d", "1100", AccountTypeAsset, "")

	acct, err := f.svc.Reparent(ctx, ReparentAccount{TenantID: "tenant-a", AccountID: "c", ParentID: "b"})
	require.NoError(t, err)
	require.Equal(t, AccountID("b"), acct.ParentID())

	a, err := f.svc.Get(ctx, "tenant-a", "a")
	require.NoError(t, err)
	require.Empty(t, a.Children())
	b, err := f.svc.Get(ctx, "tenant-a", "b")
	require.NoError(t, err)
	require.Equal(t, []AccountID{"c"}, b.Children())

	_, err = f.svc.Reparent(ctx, ReparentAccount{TenantID: "tenant-a", AccountID: "c", ParentID: "d"})
	require.ErrorIs(t, err, ErrHierarchy)
	_, err = f.svc.Reparent(ctx, ReparentAccount{TenantID: "tenant-a", AccountID: "c", ParentID: "missing"})
	require.ErrorIs(t, err, ErrHierarchy)
	_, err = f.svc.Reparent(ctx, ReparentAccount{TenantID: "tenant-a", AccountID: "c", ParentID: "c"})
	require.ErrorIs(t, err, ErrValidation)

	renamed, err := f.svc.Rename(ctx, RenameAccount{TenantID: "tenant-a", AccountID: "c", Name: "Petty cash"})
	require.NoError(t, err)
	require.Equal(t, "Petty cash", renamed.Name())
}

func TestServiceReparentUnderDescendantIsRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "a", "1000", AccountTypeAsset, "")
	f.create(t, "c", "1000-01", AccountTypeAsset, "a")

	_, err := f.svc.Reparent(ctx, ReparentAccount{TenantID: "tenant-a", AccountID: "a", ParentID: "c"})
	require.ErrorIs(t, err, ErrHierarchy)

	a, err := f.svc.Get(ctx, "tenant-a", "a")
	require.NoError(t, err)
	require.Equal(t, AccountID(""), a.ParentID())
	require.Equal(t, []AccountID{"c"}, a.Children())
	c, err := f.svc.Get(ctx, "tenant-a", "c")
	require.NoError(t, err)
	require.Equal(t, AccountID("a"), c.ParentID())
	require.Empty(t, c.Children())

	_, err = f.svc.Deactivate(ctx, DeactivateAccount{TenantID: "tenant-a", AccountID: "c"})
	require.NoError(t, err)
	_, err = f.svc.Deactivate(ctx, DeactivateAccount{TenantID: "tenant-a", AccountID: "a"})
	require.NoError(t, err)
}

func TestServicePublishFailureDoesNotFailCommand(t *testing.T) {
	f := newServiceFixture(t)
	f.publisher.err = errors.New("redis down")
	acct := f.create(t, "cash", "1000", AccountTypeAsset, "")
	require.Equal(t, eventsource.Version(1), acct.Version())
}

func TestServiceAuditActorFromContext(t *testing.T) {
	f := newServiceFixture(t)
	f.create(t, "cash", "1000", AccountTypeAsset, "")

	ctx := shared.ContextWithActor(context.Background(), "bob")
	_, err := f.svc.Debit(ctx, "tenant-a", "cash", bdt(10), "")
	require.NoError(t, err)
	_, err = f.svc.Debit(context.Background(), "tenant-a", "cash", bdt(10), "")
	require.NoError(t, err)

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	require.Len(t, f.audit.logs, 3)
	require.Equal(t, "alice", f.audit.logs[0].Actor)
	require.Equal(t, "bob", f.audit.logs[1].Actor)
	require.Equal(t, shared.SystemActor, f.audit.logs[2].Actor)
}

func TestServiceStreamKeysStayTenantScoped(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateAccount(ctx, CreateAccount{
		AccountID: "b-account-c", TenantID: "a", Code: "1000", Name: "Tenant A cash",
		Type: AccountTypeAsset, Currency: money.BDT,
	})
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, "a", "b-account-c", bdt(500), "alice")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "a-account-b", "c")
	require.ErrorIs(t, err, ErrAccountNotFound)
	_, err = f.svc.Verify(ctx, "a-account-b", "c")
	require.ErrorIs(t, err, ErrAccountNotFound)
	_, err = f.svc.Debit(ctx, "a-account-b", "c", bdt(1), "alice")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateAccount(ctx, CreateAccount{
		AccountID: "c", TenantID: "a-account-b", Code: "1000", Name: "Tenant B cash",
		Type: AccountTypeAsset, Currency: money.BDT,
	})
	require.ErrorIs(t, err, ErrValidation)

	acct, err := f.svc.Get(ctx, "a", "b-account-c")
	require.NoError(t, err)
	require.True(t, acct.Balance().Equal(bdt(500)))
}
