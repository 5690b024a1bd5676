package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

type stubVerifier struct {
	reports map[ledger.AccountID]ledger.VerifyReport
	errs    map[ledger.AccountID]error
	seen    []ledger.AccountID
}

func (s *stubVerifier) Verify(_ context.Context, _ ledger.TenantID, id ledger.AccountID) (ledger.VerifyReport, error) {
	s.seen = append(s.seen, id)
	if err := s.errs[id]; err != nil {
		return ledger.VerifyReport{}, err
	}
	return s.reports[id], nil
}

type stubLister struct {
	streams []eventsource.StreamID
	err     error
}

func (s stubLister) Streams(context.Context, string, string) ([]eventsource.StreamID, error) {
	return s.streams, s.err
}

func streamTask(t *testing.T, tenant, account string) *asynq.Task {
	t.Helper()
	task, err := NewVerifyStreamTask(VerifyStreamPayload{TenantID: tenant, AccountID: account})
	require.NoError(t, err)
	return task
}

func TestVerifyStreamConsistent(t *testing.T) {
	verifier := &stubVerifier{reports: map[ledger.AccountID]ledger.VerifyReport{
		"acc-1": {Events: 4, Findings: []ledger.Finding{}},
	}}
	job := NewVerifyJob(verifier, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.HandleStream(context.Background(), streamTask(t, "tenant-a", "acc-1")))
	require.Equal(t, []ledger.AccountID{"acc-1"}, verifier.seen)
}

func TestVerifyStreamFindingsAreNotRetried(t *testing.T) {
	verifier := &stubVerifier{reports: map[ledger.AccountID]ledger.VerifyReport{
		"acc-1": {Findings: []ledger.Finding{{Version: 3, Tag: ledger.TagBalanceUpdated, Problem: "balance drift"}}},
	}}
	job := NewVerifyJob(verifier, nil, nil, nil)

	require.NoError(t, job.HandleStream(context.Background(), streamTask(t, "tenant-a", "acc-1")))
}

func TestVerifyStreamErrors(t *testing.T) {
	boom := errors.New("store down")
	verifier := &stubVerifier{errs: map[ledger.AccountID]error{
		"missing": ledger.ErrAccountNotFound,
		"broken":  boom,
	}}
	job := NewVerifyJob(verifier, nil, nil, nil)
	ctx := context.Background()

	err := job.HandleStream(ctx, streamTask(t, "tenant-a", "missing"))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.HandleStream(ctx, streamTask(t, "tenant-a", "broken"))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	err = job.HandleStream(ctx, asynq.NewTask(TaskLedgerVerifyStream, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestVerifyTenantSweepsTenantStreams(t *testing.T) {
	verifier := &stubVerifier{reports: map[ledger.AccountID]ledger.VerifyReport{
		"acc-1": {Findings: []ledger.Finding{}},
		"acc-2": {Findings: []ledger.Finding{{Version: 2, Problem: "negative balance"}}},
	}}
	lister := stubLister{streams: []eventsource.StreamID{
		ledger.StreamFor("tenant-a", "acc-1"),
		ledger.StreamFor("tenant-a", "acc-2"),
		ledger.StreamFor("tenant-b", "acc-3"),
	}}
	job := NewVerifyJob(verifier, lister, nil, nil)

	data, err := json.Marshal(VerifyTenantPayload{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.NoError(t, job.HandleTenant(context.Background(), asynq.NewTask(TaskLedgerVerifyTenant, data)))
	require.Equal(t, []ledger.AccountID{"acc-1", "acc-2"}, verifier.seen)
}

func TestVerifyTenantContinuesPastBrokenStream(t *testing.T) {
	unknown := &ledger.UnknownTagError{Tag: "ledger.account.merged.v1"}
	verifier := &stubVerifier{
		reports: map[ledger.AccountID]ledger.VerifyReport{
			"acc-1": {Findings: []ledger.Finding{}},
			"acc-3": {Findings: []ledger.Finding{}},
		},
		errs: map[ledger.AccountID]error{"acc-2": unknown},
	}
	lister := stubLister{streams: []eventsource.StreamID{
		ledger.StreamFor("tenant-a", "acc-1"),
		ledger.StreamFor("tenant-a", "acc-2"),
		ledger.StreamFor("tenant-a", "acc-3"),
	}}
	registry := prometheus.NewRegistry()
	job := NewVerifyJob(verifier, lister, nil, jobmetrics.NewMetrics(registry))

	task, err := NewVerifyTenantTask(VerifyTenantPayload{TenantID: "tenant-a"})
	require.NoError(t, err)
	err = job.HandleTenant(context.Background(), task)
	require.Error(t, err)

	var tagErr *ledger.UnknownTagError
	require.ErrorAs(t, err, &tagErr)
	require.Contains(t, err.Error(), "account acc-2")
	require.Equal(t, []ledger.AccountID{"acc-1", "acc-2", "acc-3"}, verifier.seen)

	count, err := testutil.GatherAndCount(registry, "ledger_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestVerifyTenantWithoutLister(t *testing.T) {
	job := NewVerifyJob(&stubVerifier{}, nil, nil, nil)
	task, err := NewVerifyTenantTask(VerifyTenantPayload{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.ErrorIs(t, job.HandleTenant(context.Background(), task), asynq.SkipRetry)
}

func TestNewTasksRejectIncompletePayloads(t *testing.T) {
	_, err := NewVerifyStreamTask(VerifyStreamPayload{TenantID: "tenant-a"})
	require.Error(t, err)
	_, err = NewVerifyTenantTask(VerifyTenantPayload{TenantID: " "})
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0,"archived":0}`, rec.Body.String())
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthReportsQueue(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":4,"active":0,"retry":1,"archived":0}`, rec.Body.String())

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}
