// Package optimization grid-searches strategy parameters over a fixed candle
// series, replaying each combination through the backtesting engine.
package optimization

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
	"trendbot/internal/strategy/analytics"
	"trendbot/internal/strategy/backtesting"
)

// IntRange defines an inclusive integer parameter sweep.
type IntRange struct {
	Min, Max, Step int
}

// DecimalRange defines an inclusive decimal parameter sweep.
type DecimalRange struct {
	Min, Max, Step decimal.Decimal
}

// Config holds the optimizer's sweep ranges. A zero Step freezes the
// parameter at the base config's value.
type Config struct {
	Base domain.StrategyConfig

	TrendThreshold    IntRange
	OffsetPercent     DecimalRange
	TakeProfitPercent DecimalRange
	StopLossPercent   DecimalRange

	UseCandleRange bool

	// ScoreFunction ranks a run. Nil uses DefaultScore.
	ScoreFunction func(analytics.Summary) decimal.Decimal
}

// Result pairs one parameter combination with its replay outcome.
type Result struct {
	Strategy domain.StrategyConfig
	Summary  analytics.Summary
	Score    decimal.Decimal
	Err      error
}

// Optimizer runs the sweep.
type Optimizer struct {
	cfg    Config
	logger ports.Logger
}

// New creates an optimizer instance.
func New(cfg Config, logger ports.Logger) *Optimizer {
	if cfg.ScoreFunction == nil {
		cfg.ScoreFunction = DefaultScore
	}
	return &Optimizer{cfg: cfg, logger: logger}
}

// Optimize replays every parameter combination over the candle series and
// returns the results ordered by score, best first. Combinations whose replay
// failed carry the error and sort last.
func (o *Optimizer) Optimize(ctx context.Context, candles []domain.Candle) ([]Result, error) {
	combinations := o.combinations()
	results := make([]Result, 0, len(combinations))

	resultChan := make(chan Result, len(combinations))
	var wg sync.WaitGroup

	for _, strat := range combinations {
		wg.Add(1)
		go func(strat domain.StrategyConfig) {
			defer wg.Done()

			run, err := backtesting.Run(ctx, o.logger, backtesting.Config{
				Strategy:       strat,
				UseCandleRange: o.cfg.UseCandleRange,
			}, candles)
			if err != nil {
				resultChan <- Result{Strategy: strat, Err: err}
				return
			}
			resultChan <- Result{
				Strategy: strat,
				Summary:  run.Summary,
				Score:    o.cfg.ScoreFunction(run.Summary),
			}
		}(strat)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		if (results[i].Err == nil) != (results[j].Err == nil) {
			return results[i].Err == nil
		}
		return results[i].Score.GreaterThan(results[j].Score)
	})
	return results, nil
}

// combinations expands the sweep ranges into full strategy configs.
func (o *Optimizer) combinations() []domain.StrategyConfig {
	var configs []domain.StrategyConfig
	for _, threshold := range intValues(o.cfg.TrendThreshold, o.cfg.Base.TrendThreshold) {
		for _, offset := range decimalValues(o.cfg.OffsetPercent, o.cfg.Base.OffsetPercent) {
			for _, tp := range decimalValues(o.cfg.TakeProfitPercent, o.cfg.Base.TakeProfitPercent) {
				for _, sl := range decimalValues(o.cfg.StopLossPercent, o.cfg.Base.StopLossPercent) {
					strat := o.cfg.Base
					strat.TrendThreshold = threshold
					strat.OffsetPercent = offset
					strat.TakeProfitPercent = tp
					strat.StopLossPercent = sl
					configs = append(configs, strat)
				}
			}
		}
	}
	return configs
}

func intValues(r IntRange, base int) []int {
	if r.Step <= 0 || r.Max < r.Min {
		return []int{base}
	}
	var values []int
	for v := r.Min; v <= r.Max; v += r.Step {
		values = append(values, v)
	}
	return values
}

func decimalValues(r DecimalRange, base decimal.Decimal) []decimal.Decimal {
	if !r.Step.IsPositive() || r.Max.LessThan(r.Min) {
		return []decimal.Decimal{base}
	}
	var values []decimal.Decimal
	for v := r.Min; v.LessThanOrEqual(r.Max); v = v.Add(r.Step) {
		values = append(values, v)
	}
	return values
}

// DefaultScore weighs realized PnL by win rate so a lucky single trade does
// not outrank a consistent run.
func DefaultScore(s analytics.Summary) decimal.Decimal {
	if s.Closes == 0 {
		return decimal.Zero
	}
	return s.TotalPnl.Mul(decimal.NewFromInt(1).Add(s.WinRate))
}
