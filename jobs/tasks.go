package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerVerifyStream replays a single account stream.
	TaskLedgerVerifyStream = "ledger:verify_stream"
	// TaskLedgerVerifyTenant replays every account stream of a tenant.
	TaskLedgerVerifyTenant = "ledger:verify_tenant"
)

var errPayloadIncomplete = errors.New("jobs: payload incomplete")

// VerifyStreamPayload identifies the account stream to verify.
type VerifyStreamPayload struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
}

// VerifyTenantPayload identifies the tenant whose streams are swept.
type VerifyTenantPayload struct {
	TenantID string `json:"tenant_id"`
}

// NewVerifyStreamTask constructs an Asynq task for one stream.
func NewVerifyStreamTask(payload VerifyStreamPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.TenantID) == "" || strings.TrimSpace(payload.AccountID) == "" {
		return nil, errPayloadIncomplete
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerVerifyStream, data), nil
}

// NewVerifyTenantTask constructs an Asynq task for a tenant sweep.
func NewVerifyTenantTask(payload VerifyTenantPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.TenantID) == "" {
		return nil, errPayloadIncomplete
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerVerifyTenant, data), nil
}
