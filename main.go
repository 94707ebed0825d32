package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"trendbot/config"
	"trendbot/internal/adapters/binanceclient"
	"trendbot/internal/adapters/logger"
	"trendbot/internal/adapters/sqlite"
	"trendbot/internal/ports"
	"trendbot/internal/scheduler"
	"trendbot/internal/strategy/matrend"
)

// fallbackAccounts fills empty per-strategy credentials from the process-level
// defaults so a single-account deployment needs no per-row keys.
type fallbackAccounts struct {
	store    ports.AccountStore
	fallback ports.Account
}

func (f *fallbackAccounts) AccountFor(ctx context.Context, strategyID int64) (ports.Account, error) {
	account, err := f.store.AccountFor(ctx, strategyID)
	if err != nil {
		return ports.Account{}, err
	}
	if account.APIKey == "" && account.SecretKey == "" {
		account.APIKey = f.fallback.APIKey
		account.SecretKey = f.fallback.SecretKey
		account.Testnet = f.fallback.Testnet
		if account.ProxyURL == "" {
			account.ProxyURL = f.fallback.ProxyURL
		}
	}
	return account, nil
}

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Strategy Handlers
	maTrend, err := matrend.New(appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize strategy handler")
		log.Fatalf("FATAL: Failed to initialize strategy handler: %v", err)
	}
	handlers := map[string]ports.StrategyHandler{
		matrend.Type: maTrend,
	}

	// 5. Account Resolution and Gateway Factory
	accounts := &fallbackAccounts{
		store: repo,
		fallback: ports.Account{
			APIKey:    cfg.DefaultAPIKey,
			SecretKey: cfg.DefaultSecretKey,
			Testnet:   cfg.IsTestnet,
			ProxyURL:  cfg.ProxyURL,
		},
	}
	newGateway := binanceclient.NewGatewayFactory(appLogger)

	// 6. Initialize Scheduler
	sched, err := scheduler.New(
		scheduler.Config{Interval: cfg.SchedulerInterval, TickBudget: cfg.TickBudget},
		appLogger,
		repo,
		repo,
		accounts,
		newGateway,
		handlers,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize scheduler")
		log.Fatalf("FATAL: Failed to initialize scheduler: %v", err)
	}

	// 7. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Scheduler exited with error")
		log.Fatalf("FATAL: Scheduler exited with error: %v", err)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
