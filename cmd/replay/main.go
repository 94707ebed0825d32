// Command replay runs a strategy over a CSV candle series through the same
// decision engine the live scheduler drives, then prints the trade list and
// the aggregate summary.
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
	"trendbot/internal/strategy/backtesting"
	"trendbot/internal/strategy/matrend"
	"trendbot/internal/utils"
)

func main() {
	var (
		candlesFile = flag.String("candles", "", "CSV file with the candle series (required)")
		symbol      = flag.String("symbol", "BTC-USDT", "canonical symbol")
		timeframe   = flag.String("timeframe", "4h", "candle timeframe")
		indicator   = flag.String("indicator", "SMA", "moving average kind: SMA or EMA")
		length      = flag.Int("length", 20, "moving average length")
		threshold   = flag.Int("threshold", 3, "closed candles required on one side of the MA")
		offset      = flag.String("offset", "0.5", "entry offset percent")
		takeProfit  = flag.String("tp", "2", "take profit percent")
		stopLoss    = flag.String("sl", "1", "stop loss percent")
		orderSize   = flag.String("size", "100", "base order size in quote currency")
		direction   = flag.String("direction", "both", "direction filter: long, short or both")
		martingale  = flag.Bool("martingale", false, "enable martingale sizing")
		coefficient = flag.String("coefficient", "2", "martingale coefficient")
		useRange    = flag.Bool("use-range", false, "check exits against candle high/low instead of close")
		logLevel    = flag.String("log-level", "WARN", "log level")
	)
	flag.Parse()

	if *candlesFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	appLogger := logger.NewStdLogger(logger.ParseLevel(*logLevel))

	strat := domain.StrategyConfig{
		Type:                  matrend.Type,
		Symbol:                *symbol,
		Timeframe:             *timeframe,
		Indicator:             domain.IndicatorKind(*indicator),
		IndicatorLength:       *length,
		TrendThreshold:        *threshold,
		OffsetPercent:         mustDecimal("offset", *offset),
		TakeProfitPercent:     mustDecimal("tp", *takeProfit),
		StopLossPercent:       mustDecimal("sl", *stopLoss),
		BaseOrderSize:         mustDecimal("size", *orderSize),
		Direction:             domain.DirectionFilter(*direction),
		Martingale:            *martingale,
		MartingaleCoefficient: mustDecimal("coefficient", *coefficient),
	}

	candles, err := utils.ReadCandlesFromCSV(*candlesFile)
	if err != nil {
		log.Fatalf("FATAL: Failed to load candles: %v", err)
	}

	result, err := backtesting.Run(context.Background(), appLogger, backtesting.Config{
		Strategy:       strat,
		UseCandleRange: *useRange,
	}, candles)
	if err != nil {
		log.Fatalf("FATAL: Replay failed: %v", err)
	}

	for _, t := range result.Trades {
		line := fmt.Sprintf("%s  %-5s %-5s qty=%s price=%s size=%s",
			t.ExecutedAt.UTC().Format("2006-01-02 15:04"), t.Action, t.Side, t.Quantity, t.Price, t.OrderSize)
		if t.Pnl != nil {
			line += fmt.Sprintf(" pnl=%s (%s%%)", t.Pnl.Round(4), t.PnlPercent.Round(4))
		}
		fmt.Println(line, t.Reason)
	}

	s := result.Summary
	fmt.Printf("\ncandles: %d  entries: %d  closes: %d  open at end: %d\n",
		len(candles), s.Entries, s.Closes, s.OpenPositions)
	fmt.Printf("wins: %d  losses: %d  win rate: %s%%\n",
		s.WinningTrades, s.LosingTrades, s.WinRate.Mul(decimal.NewFromInt(100)).Round(2))
	fmt.Printf("total pnl: %s  avg pnl: %s  max order size: %s\n",
		s.TotalPnl.Round(4), s.AveragePnl.Round(4), s.MaxOrderSize)
}

func mustDecimal(name, raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.Fatalf("FATAL: Invalid -%s value %q: %v", name, raw, err)
	}
	return d
}
