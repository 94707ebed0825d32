// Command fetch_candles downloads recent candles from the exchange and saves
// them as CSV for the replay and optimize tools.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"trendbot/config"
	"trendbot/internal/adapters/binanceclient"
	"trendbot/internal/adapters/logger"
	"trendbot/internal/ports"
	"trendbot/internal/utils"
)

func main() {
	var (
		symbol    = flag.String("symbol", "BTC-USDT", "canonical symbol")
		timeframe = flag.String("timeframe", "4h", "candle timeframe")
		limit     = flag.Int("limit", 500, "number of candles to fetch")
		output    = flag.String("output", "", "output CSV file (default data/<symbol>_<timeframe>.csv)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	gw, err := binanceclient.New(binanceclient.Config{
		Account: ports.Account{
			APIKey:    cfg.DefaultAPIKey,
			SecretKey: cfg.DefaultSecretKey,
			Testnet:   cfg.IsTestnet,
			ProxyURL:  cfg.ProxyURL,
		},
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize exchange gateway: %v", err)
	}

	candles, err := gw.GetCandles(context.Background(), *symbol, *timeframe, *limit)
	if err != nil {
		log.Fatalf("FATAL: Failed to fetch candles: %v", err)
	}

	filename := *output
	if filename == "" {
		if err := os.MkdirAll("data", 0755); err != nil {
			log.Fatalf("FATAL: Failed to create data directory: %v", err)
		}
		filename = fmt.Sprintf("data/%s_%s.csv", *symbol, *timeframe)
	}
	if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
		log.Fatalf("FATAL: Failed to write candles: %v", err)
	}
	fmt.Printf("saved %d candles to %s\n", len(candles), filename)
}
