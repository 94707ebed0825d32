package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trendbot/internal/adapters/logger"
)

// Config holds all application configuration. Per-strategy parameters live in
// the store; this covers process-level settings only.
type Config struct {
	// Scheduler
	SchedulerInterval time.Duration // Delay between run cycles
	TickBudget        time.Duration // Per-strategy tick timeout, zero disables

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Default exchange account used when a strategy has no credentials of
	// its own in the store.
	DefaultAPIKey    string
	DefaultSecretKey string
	IsTestnet        bool
	ProxyURL         string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	intervalSeconds, err := getEnvAsIntRequired("SCHEDULER_INTERVAL_SECONDS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SCHEDULER_INTERVAL_SECONDS: %v", err))
	} else if intervalSeconds <= 0 {
		errs = append(errs, "SCHEDULER_INTERVAL_SECONDS must be positive")
	}
	cfg.SchedulerInterval = time.Duration(intervalSeconds) * time.Second

	budgetSeconds, err := getEnvAsIntRequired("TICK_BUDGET_SECONDS", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TICK_BUDGET_SECONDS: %v", err))
	} else if budgetSeconds < 0 {
		errs = append(errs, "TICK_BUDGET_SECONDS cannot be negative")
	}
	cfg.TickBudget = time.Duration(budgetSeconds) * time.Second

	cfg.DBPath = getEnv("DB_PATH", "./data/trendbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	cfg.DefaultAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.DefaultSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.ProxyURL = getEnv("PROXY_URL", "")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
