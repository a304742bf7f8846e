package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"token_exchange/internal/domain"
	"token_exchange/internal/engine"
	"token_exchange/internal/handler"
	"token_exchange/internal/infra"
	"token_exchange/internal/infra/storage"
	"token_exchange/internal/infra/ws"
	"token_exchange/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Logger     *slog.Logger
	Metrics    *infra.Metrics
	Storage    *storage.Storage
	Hub        *ws.Hub
	Dispatcher *engine.Dispatcher
	Service    *service.ExchangeService
	Poller     *infra.PricePoller
	Server     *http.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: infra.GlobalMetrics}
}

// Initialize loads configuration, opens the database, applies seed data and
// wires the service. A missing config file falls back to defaults.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping token exchange...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", configPath))
		cfg, err = infra.DefaultConfigFromEnv()
	}
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(storage.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Database.Driver))

	if err := b.seed(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	// 4. Settlement pipeline
	state, err := store.SettlementState(ctx)
	if err != nil {
		return err
	}
	b.Hub = ws.NewHub(b.Metrics)
	notifier := domain.MultiNotifier{infra.LogNotifier{Logger: b.Logger}, b.Hub}
	b.Dispatcher = engine.NewDispatcher(
		cfg.Notify.Buffer,
		state.LastBatchSeq+1,
		notifier,
		time.Duration(cfg.Notify.TimeoutMS)*time.Millisecond,
		b.Metrics,
	)
	b.Service = service.NewExchangeService(store, cfg.Settlement.Threshold, b.Dispatcher, b.Metrics)

	if err := b.Service.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	slog.Info("✅ Ledger reconciled",
		slog.String("threshold", cfg.Settlement.Threshold.String()),
		slog.Uint64("last_batch_seq", state.LastBatchSeq),
	)

	// 5. Optional price feed
	if cfg.Catalog.PollURL != "" {
		b.Poller = infra.NewPricePoller(store, cfg.Catalog.PollURL, cfg.Catalog.PollIntervalSec)
	}

	// 6. HTTP surface
	auth := handler.NewAuthenticator(cfg.Auth.Tokens)
	if len(cfg.Auth.Tokens) == 0 {
		slog.Warn("No auth tokens configured; every order will be rejected")
	}
	b.Server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.NewRouter(b.Service, auth, b.Hub, b.Metrics, b.Logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	return nil
}

// seed writes configured prices and balances that are not in the database yet.
// Existing rows win so restarts never re-fund an owner.
func (b *Bootstrap) seed(ctx context.Context) error {
	existing, err := b.Storage.ListPrices(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.Token] = true
	}
	for token, price := range b.Config.Catalog.Prices {
		if known[token] {
			continue
		}
		if err := b.Storage.UpsertPrice(ctx, token, price); err != nil {
			return fmt.Errorf("price %s: %w", token, err)
		}
		slog.Info("Seeded price", slog.String("token", token), slog.String("price", price.String()))
	}

	for owner, amount := range b.Config.Seed.Balances {
		bal, err := b.Storage.GetBalance(ctx, owner)
		if err != nil {
			return err
		}
		if bal != nil {
			continue
		}
		if _, err := b.Storage.Credit(ctx, owner, amount); err != nil {
			return fmt.Errorf("balance %s: %w", owner, err)
		}
		slog.Info("Seeded balance", slog.String("owner", owner), slog.String("amount", amount.String()))
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down in order:
// stop admissions, drain notifications, close subscribers and the database.
func (b *Bootstrap) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.Server.Addr, err)
	}
	return b.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (b *Bootstrap) Serve(ctx context.Context, ln net.Listener) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go b.Dispatcher.Run(dispatchCtx)

	if b.Poller != nil {
		if err := b.Poller.Start(ctx); err != nil {
			slog.Error("Failed to start price poller", slog.Any("error", err))
		}
		defer b.Poller.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- b.Server.Serve(ln)
	}()
	slog.Info("✨ Token exchange listening", slog.String("addr", ln.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(b.Config.HTTP.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}

	stopDispatch()
	<-b.Dispatcher.Done()
	b.Hub.Close()

	if err := b.Storage.Close(); err != nil {
		slog.Error("Failed to close database", slog.Any("error", err))
	}

	snap := b.Metrics.Snapshot()
	slog.Info("Final metrics",
		slog.Uint64("orders_placed", snap.OrdersPlaced),
		slog.Uint64("orders_rejected", snap.OrdersRejected),
		slog.Uint64("batches_settled", snap.BatchesSettled),
		slog.Uint64("notify_failures", snap.NotifyFailures),
	)
	return runErr
}
