package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping ledgerd startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("init ledgerd", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ledgerd run", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("ledgerd stopped")
}

type runtime struct {
	cfg     *app.Config
	logger  *slog.Logger
	store   *app.EventStore
	redis   *redis.Client
	service *ledger.Service
	worker  *jobs.Worker
	server  *http.Server
	closers []func()
}

func newRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	store, err := app.OpenEventStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)
	logger.Info("event store ready", slog.String("kind", store.Kind))

	metrics := observability.NewMetrics()

	var audit ledger.AuditPort = shared.NewLogAuditor(logger)
	if store.Pool != nil {
		auditLogger := shared.NewAuditLogger(store.Pool)
		if err := auditLogger.EnsureSchema(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		audit = auditLogger
	}

	var publisher ledger.Publisher
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.WithPassword(cfg.RedisPassword), cache.WithDB(cfg.RedisDB))
	if err != nil {
		logger.Warn("redis unavailable, event bridge disabled", slog.Any("error", err))
	} else {
		rt.redis = redisClient
		rt.closers = append(rt.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		publisher = integration.NewRedisPublisher(redisClient, cfg.LedgerEventChannel)
	}

	repo := ledger.NewRepository(store.Store, ledger.NewCodec())
	service := ledger.NewService(repo, audit, publisher, logger)
	service.WithMaxRetries(cfg.LedgerMaxRetries)
	service.WithMetrics(ledger.NewMetrics(metrics.Registerer()))
	rt.service = service

	var jobHandler *jobs.Handler
	if rt.redis != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		verifyJob := jobs.NewVerifyJob(service, store.Store, logger, jobmetrics.NewMetrics(metrics.Registerer()))

		var cron []jobs.CronRegistration
		if cfg.LedgerVerifyTenant != "" {
			task, err := jobs.NewVerifyTenantTask(jobs.VerifyTenantPayload{TenantID: cfg.LedgerVerifyTenant})
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("build verify task: %w", err)
			}
			cron = append(cron, jobs.CronRegistration{
				Spec:    cfg.LedgerVerifyCron,
				Task:    task,
				Options: []asynq.Option{asynq.MaxRetry(3)},
			})
		}
		worker, err := jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts: redisOpts,
			Logger:    logger,
			Handlers:  verifyJob.Handlers(),
			Cron:      cron,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("init worker: %w", err)
		}
		rt.worker = worker

		inspector := asynq.NewInspector(redisOpts)
		rt.closers = append(rt.closers, func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		})
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Accounts:   service,
		JobHandler: jobHandler,
		Metrics:    metrics,
	})
	rt.server = &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	return rt, nil
}

// Run serves the ops server and the worker until ctx is cancelled or either fails.
func (rt *runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.logger.Info("starting ops server", slog.String("addr", rt.cfg.AppAddr))
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		rt.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("graceful shutdown", slog.Any("error", err))
		}
		return nil
	})
	if rt.worker != nil {
		g.Go(func() error {
			return rt.worker.Run(ctx)
		})
	} else {
		rt.logger.Warn("jobs worker disabled, redis unavailable")
	}
	return g.Wait()
}

// Close releases resources in reverse acquisition order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
