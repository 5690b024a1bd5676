package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Verifier replays an account stream.
type Verifier interface {
	Verify(ctx context.Context, tenant ledger.TenantID, id ledger.AccountID) (ledger.VerifyReport, error)
}

// VerifyJob checks account streams for inconsistent balance transitions.
type VerifyJob struct {
	Verifier Verifier
	Lister   eventsource.StreamLister
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewVerifyJob wires dependencies for the verify handlers. lister may be nil when
// the event store cannot enumerate streams; tenant sweeps then fail without retry.
func NewVerifyJob(verifier Verifier, lister eventsource.StreamLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *VerifyJob {
	return &VerifyJob{Verifier: verifier, Lister: lister, Logger: logger, Metrics: metrics}
}

// Handlers returns the task handlers served by the worker.
func (j *VerifyJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerVerifyStream, Handler: j.HandleStream},
		{Type: TaskLedgerVerifyTenant, Handler: j.HandleTenant},
	}
}

// HandleStream processes TaskLedgerVerifyStream tasks.
func (j *VerifyJob) HandleStream(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("verify stream: handler not configured")
	}
	var payload VerifyStreamPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TenantID == "" || payload.AccountID == "" {
		return fmt.Errorf("verify stream: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskLedgerVerifyStream)
	_, err := j.verify(ctx, ledger.TenantID(payload.TenantID), ledger.AccountID(payload.AccountID))
	if ledger.IsKind(err, ledger.KindNotFound) {
		tracker.End(nil)
		return fmt.Errorf("verify stream: %w: %w", err, asynq.SkipRetry)
	}
	return tracker.End(err)
}

// HandleTenant processes TaskLedgerVerifyTenant tasks.
func (j *VerifyJob) HandleTenant(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("verify tenant: handler not configured")
	}
	var payload VerifyTenantPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TenantID == "" {
		return fmt.Errorf("verify tenant: bad payload: %w", asynq.SkipRetry)
	}
	if j.Lister == nil {
		return fmt.Errorf("verify tenant: event store cannot list streams: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskLedgerVerifyTenant)
	var resultErr error
	defer func() {
		tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("tenant_id", payload.TenantID))
	streams, err := j.Lister.Streams(ctx, payload.TenantID, ledger.AggregateType)
	if err != nil {
		resultErr = err
		logger.Error("list account streams", slog.Any("error", err))
		return resultErr
	}

	prefix := payload.TenantID + "-" + ledger.AggregateType + "-"
	checked, dirty := 0, 0
	var failures []error
	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		id, ok := strings.CutPrefix(string(stream), prefix)
		if !ok || id == "" {
			logger.Warn("skip foreign stream", slog.String("stream", string(stream)))
			continue
		}
		report, err := j.verify(ctx, ledger.TenantID(payload.TenantID), ledger.AccountID(id))
		if err != nil {
			failures = append(failures, fmt.Errorf("account %s: %w", id, err))
			continue
		}
		checked++
		if !report.OK() {
			dirty++
		}
	}
	logger.Info("ledger verify sweep complete",
		slog.Int("streams", checked),
		slog.Int("inconsistent", dirty),
		slog.Int("failed", len(failures)))
	resultErr = errors.Join(failures...)
	return resultErr
}

// verify runs one replay. Findings are logged and counted but are not an error:
// retrying cannot repair a stream.
func (j *VerifyJob) verify(ctx context.Context, tenant ledger.TenantID, id ledger.AccountID) (ledger.VerifyReport, error) {
	logger := j.logger().With(slog.String("tenant_id", string(tenant)), slog.String("account_id", string(id)))
	report, err := j.Verifier.Verify(ctx, tenant, id)
	if err != nil {
		logger.Error("verify account stream", slog.Any("error", err))
		return report, err
	}
	if report.OK() {
		logger.Debug("account stream consistent", slog.Int("events", report.Events))
		return report, nil
	}
	j.Metrics.AddFindings(string(tenant), len(report.Findings))
	for _, f := range report.Findings {
		logger.Error("account stream inconsistent",
			slog.Int64("version", int64(f.Version)),
			slog.String("tag", f.Tag),
			slog.String("problem", f.Problem))
	}
	return report, nil
}

func (j *VerifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
