// Command optimize grid-searches strategy parameters over a CSV candle
// series and prints the best combinations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"trendbot/internal/adapters/logger"
	"trendbot/internal/domain"
	"trendbot/internal/strategy/matrend"
	"trendbot/internal/strategy/optimization"
	"trendbot/internal/utils"
)

func main() {
	var (
		candlesFile = flag.String("candles", "", "CSV file with the candle series (required)")
		symbol      = flag.String("symbol", "BTC-USDT", "canonical symbol")
		timeframe   = flag.String("timeframe", "4h", "candle timeframe")
		indicator   = flag.String("indicator", "SMA", "moving average kind: SMA or EMA")
		length      = flag.Int("length", 20, "moving average length")
		orderSize   = flag.String("size", "100", "base order size in quote currency")
		direction   = flag.String("direction", "both", "direction filter: long, short or both")
		top         = flag.Int("top", 10, "number of best results to print")
		useRange    = flag.Bool("use-range", false, "check exits against candle high/low instead of close")
		logLevel    = flag.String("log-level", "ERROR", "log level")
	)
	flag.Parse()

	if *candlesFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	appLogger := logger.NewStdLogger(logger.ParseLevel(*logLevel))

	candles, err := utils.ReadCandlesFromCSV(*candlesFile)
	if err != nil {
		log.Fatalf("FATAL: Failed to load candles: %v", err)
	}

	base := domain.StrategyConfig{
		Type:              matrend.Type,
		Symbol:            *symbol,
		Timeframe:         *timeframe,
		Indicator:         domain.IndicatorKind(*indicator),
		IndicatorLength:   *length,
		TrendThreshold:    3,
		OffsetPercent:     decimal.RequireFromString("0.5"),
		TakeProfitPercent: decimal.RequireFromString("2"),
		StopLossPercent:   decimal.RequireFromString("1"),
		BaseOrderSize:     decimal.RequireFromString(*orderSize),
		Direction:         domain.DirectionFilter(*direction),
	}

	opt := optimization.New(optimization.Config{
		Base:           base,
		TrendThreshold: optimization.IntRange{Min: 1, Max: 6, Step: 1},
		OffsetPercent: optimization.DecimalRange{
			Min:  decimal.RequireFromString("0"),
			Max:  decimal.RequireFromString("1"),
			Step: decimal.RequireFromString("0.25"),
		},
		TakeProfitPercent: optimization.DecimalRange{
			Min:  decimal.RequireFromString("1"),
			Max:  decimal.RequireFromString("4"),
			Step: decimal.RequireFromString("0.5"),
		},
		StopLossPercent: optimization.DecimalRange{
			Min:  decimal.RequireFromString("0.5"),
			Max:  decimal.RequireFromString("2"),
			Step: decimal.RequireFromString("0.5"),
		},
		UseCandleRange: *useRange,
	}, appLogger)

	results, err := opt.Optimize(context.Background(), candles)
	if err != nil {
		log.Fatalf("FATAL: Optimization failed: %v", err)
	}

	fmt.Printf("evaluated %d combinations over %d candles\n\n", len(results), len(candles))
	for i, r := range results {
		if i >= *top {
			break
		}
		if r.Err != nil {
			fmt.Printf("%2d. threshold=%d offset=%s tp=%s sl=%s  FAILED: %v\n",
				i+1, r.Strategy.TrendThreshold, r.Strategy.OffsetPercent,
				r.Strategy.TakeProfitPercent, r.Strategy.StopLossPercent, r.Err)
			continue
		}
		fmt.Printf("%2d. threshold=%d offset=%s tp=%s sl=%s  score=%s pnl=%s trades=%d winRate=%s%%\n",
			i+1, r.Strategy.TrendThreshold, r.Strategy.OffsetPercent,
			r.Strategy.TakeProfitPercent, r.Strategy.StopLossPercent,
			r.Score.Round(4), r.Summary.TotalPnl.Round(4), r.Summary.Closes,
			r.Summary.WinRate.Mul(decimal.NewFromInt(100)).Round(2))
	}
}
