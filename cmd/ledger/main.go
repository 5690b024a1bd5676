package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledger/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

const usage = `usage:
  ledger verify -tenant T -account A [-json]
  ledger jobs trigger verify -tenant T [-account A]
  ledger jobs stats`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, usage)
		return cli.ExitError
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "verify":
		return runVerify(ctx, cfg, logger, args[1:], stdout, stderr)
	case "jobs":
		return runJobs(ctx, cfg, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintln(stderr, usage)
		return cli.ExitError
	}
}

func runVerify(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tenant := fs.String("tenant", "", "tenant id")
	account := fs.String("account", "", "account id")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	store, err := app.OpenEventStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify: open event store: %v\n", err)
		return cli.ExitError
	}
	defer store.Close()

	service := ledger.NewService(ledger.NewRepository(store.Store, ledger.NewCodec()), nil, nil, logger)
	return cli.VerifyCommand(ctx, service, cli.VerifyOptions{
		TenantID:   *tenant,
		AccountID:  *account,
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, usage)
		return cli.ExitError
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
		return cli.ExitError
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, usage)
			return cli.ExitError
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		tenant := fs.String("tenant", cfg.LedgerVerifyTenant, "tenant id")
		account := fs.String("account", "", "account id; empty sweeps the tenant")
		if err := fs.Parse(args[2:]); err != nil {
			return cli.ExitError
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *tenant, *account)
		if errors.Is(err, asynq.ErrDuplicateTask) {
			_, _ = fmt.Fprintln(stdout, "job already queued")
			return cli.ExitOK
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return cli.ExitOK
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return cli.ExitOK
	default:
		_, _ = fmt.Fprintln(stderr, usage)
		return cli.ExitError
	}
}
