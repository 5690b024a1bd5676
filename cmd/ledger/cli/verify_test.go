package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

func seededService(t *testing.T) (*ledger.Service, eventsource.Store) {
	t.Helper()
	store := eventsource.NewMemoryStore()
	svc := ledger.NewService(ledger.NewRepository(store, ledger.NewCodec()), nil, nil, nil)
	ctx := context.Background()
	_, err := svc.CreateAccount(ctx, ledger.CreateAccount{
		AccountID: "cash",
		TenantID:  "tenant-a",
		Code:      "1000",
		Name:      "Cash",
		Type:      ledger.AccountTypeAsset,
		Currency:  money.USD,
	})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "tenant-a", "cash", money.FromInt(100, money.USD), "cli")
	require.NoError(t, err)
	return svc, store
}

func TestVerifyCommandJSONSuccess(t *testing.T) {
	svc, _ := seededService(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := VerifyCommand(context.Background(), svc, VerifyOptions{
		TenantID:   "tenant-a",
		AccountID:  "cash",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, ExitOK, code, stderr.String())

	var report ledger.VerifyReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	require.True(t, report.OK())
	require.Equal(t, eventsource.Version(2), report.Version)
}

func TestVerifyCommandReportsInconsistency(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	// Append a balance event whose New does not follow from Previous.
	stream := ledger.StreamFor("tenant-a", "cash")
	codec := ledger.NewCodec()
	rec, err := codec.Encode(ledger.BalanceUpdated{
		EventMeta: ledger.EventMeta{AccountID: "cash", TenantID: "tenant-a"},
		Side:      ledger.SideDebit,
		Amount:    money.FromInt(5, money.USD),
		Previous:  money.FromInt(100, money.USD),
		New:       money.FromInt(999, money.USD),
	}, 3)
	require.NoError(t, err)
	_, err = store.Append(ctx, stream, 2, []eventsource.Record{rec})
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := VerifyCommand(ctx, svc, VerifyOptions{TenantID: "tenant-a", AccountID: "cash", Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitInconsistent, code)
	require.Contains(t, stdout.String(), "inconsistency(ies) found")
}

func TestVerifyCommandErrors(t *testing.T) {
	svc, _ := seededService(t)
	stderr := new(bytes.Buffer)

	code := VerifyCommand(context.Background(), svc, VerifyOptions{TenantID: "tenant-a", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "-account")

	stderr.Reset()
	code = VerifyCommand(context.Background(), svc, VerifyOptions{TenantID: "tenant-a", AccountID: "ghost", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "not found")
}
