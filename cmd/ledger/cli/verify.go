package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// Exit codes shared by the ledger commands.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInconsistent = 10
)

// Verifier replays an account stream.
type Verifier interface {
	Verify(ctx context.Context, tenant ledger.TenantID, id ledger.AccountID) (ledger.VerifyReport, error)
}

// VerifyOptions defines available flags for the verify command.
type VerifyOptions struct {
	TenantID   string
	AccountID  string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifyCommand replays one stream inline and prints the outcome.
func VerifyCommand(ctx context.Context, verifier Verifier, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	tenant := strings.TrimSpace(opts.TenantID)
	account := strings.TrimSpace(opts.AccountID)
	if tenant == "" || account == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "verify: -tenant and -account are required")
		return ExitError
	}
	report, err := verifier.Verify(ctx, ledger.TenantID(tenant), ledger.AccountID(account))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "verify: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "verify: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderVerifyHuman(opts.Stdout, report)
	}
	if !report.OK() {
		return ExitInconsistent
	}
	return ExitOK
}

func renderVerifyHuman(out io.Writer, report ledger.VerifyReport) {
	state := "active"
	if !report.Active {
		state = "inactive"
	}
	_, _ = fmt.Fprintf(out, "Stream %s: %d event(s), version %d, balance %s (%s)\n",
		report.Stream, report.Events, report.Version, report.Balance, state)
	if report.OK() {
		_, _ = fmt.Fprintln(out, "No inconsistencies found.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d inconsistency(ies) found:\n", len(report.Findings))
	for _, f := range report.Findings {
		_, _ = fmt.Fprintf(out, "  v%d %s: %s\n", f.Version, f.Tag, f.Problem)
	}
}
