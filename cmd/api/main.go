package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/cors"

	"github.com/cliprally/backend/internal/commission"
	"github.com/cliprally/backend/internal/config"
	"github.com/cliprally/backend/internal/gateway"
	"github.com/cliprally/backend/internal/payee"
	"github.com/cliprally/backend/internal/payout"
	"github.com/cliprally/backend/internal/transfer"
	"github.com/cliprally/backend/internal/wallet"
	"github.com/cliprally/backend/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout)
	calc := commission.Calculator{
		RateBps:         cfg.CommissionBps,
		MinDepositCents: cfg.MinDepositCents,
		MaxDepositCents: cfg.MaxDepositCents,
		MaxPayoutCents:  cfg.MaxPayoutCents,
	}

	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(walletRepo, gw, calc, cfg.Currency, logger)

	payeeRepo := payee.NewRepository(pool)
	payeeSvc := payee.NewService(payeeRepo, gw, logger)

	// Job insert funcs are set after the River client exists (breaks the
	// payout service <-> worker init cycle).
	var insertMu sync.Mutex
	var insertTxFn payout.InsertTransferJobTxFunc
	insertTransferJob := func(ctx context.Context, tx pgx.Tx, args transfer.InitiateTransferArgs) error {
		insertMu.Lock()
		fn := insertTxFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}
	var enqueueFn transfer.EnqueueTransferFunc

	payoutRepo := payout.NewRepository(pool)
	payoutSvc := payout.NewService(payoutRepo, walletSvc, payeeSvc, gw, calc, cfg.Currency, insertTransferJob, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, transfer.NewInitiateTransferWorker(payoutSvc))
	river.AddWorker(workers, transfer.NewRedriveWorker(payoutSvc, func(ctx context.Context, payoutID uuid.UUID) error {
		insertMu.Lock()
		fn := enqueueFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, payoutID)
	}, cfg.RedriveAfter, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.RedriveInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return transfer.RedriveStuckPayoutsArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// At most one live transfer job per payout: the re-drive sweep must not
	// insert a second job while the original is still waiting on backoff.
	// Completed and discarded jobs are excluded so a re-drive can re-enqueue
	// after the original exhausts its attempts.
	transferInsertOpts := &river.InsertOpts{
		MaxAttempts: cfg.TransferMaxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRetryable,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}

	insertMu.Lock()
	insertTxFn = func(ctx context.Context, tx pgx.Tx, args transfer.InitiateTransferArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, transferInsertOpts)
		return err
	}
	enqueueFn = func(ctx context.Context, payoutID uuid.UUID) error {
		_, err := riverClient.Insert(ctx, transfer.InitiateTransferArgs{PayoutID: payoutID}, transferInsertOpts)
		return err
	}
	insertMu.Unlock()

	eventRepo := webhook.NewRepository(pool)
	reconciler := webhook.NewReconciler(eventRepo, walletSvc, payeeSvc, payoutSvc, logger)
	webhookHandler := &webhook.Handler{
		Reconciler: reconciler,
		Secret:     cfg.GatewayWebhookSecret,
		Tolerance:  cfg.WebhookTolerance,
		Logger:     logger,
	}

	mux := http.NewServeMux()
	RegisterV1Routes(mux, cfg, walletSvc, payoutSvc, payeeSvc, webhookHandler, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes transfer and re-drive jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
