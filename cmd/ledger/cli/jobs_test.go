package cli

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestJobsTriggerRejectsUnknownJob(t *testing.T) {
	jobsCLI, err := NewJobsCLI(asynq.RedisClientOpt{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobsCLI.Close() })

	_, err = jobsCLI.Trigger(context.Background(), "reindex", "tenant-a", "")
	require.ErrorContains(t, err, "unsupported job")
}

func TestJobsTriggerValidatesPayload(t *testing.T) {
	jobsCLI, err := NewJobsCLI(asynq.RedisClientOpt{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobsCLI.Close() })

	_, err = jobsCLI.Trigger(context.Background(), JobVerify, "", "")
	require.Error(t, err)
}

func TestJobsCLINotConfigured(t *testing.T) {
	var jobsCLI *JobsCLI
	_, err := jobsCLI.Trigger(context.Background(), JobVerify, "tenant-a", "")
	require.Error(t, err)
	_, err = jobsCLI.InspectQueue(context.Background())
	require.Error(t, err)
}
