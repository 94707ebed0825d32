package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig holds the immutable parameters of one strategy. It is
// loaded at the start of each run-cycle and never mutated by the core.
type StrategyConfig struct {
	ID       int64
	Type     string // Handler key, e.g. "ma-trend"
	Symbol   string // Canonical spelling, e.g. "BTC-USDT"
	Timeframe string

	Indicator       IndicatorKind
	IndicatorLength int
	TrendThreshold  int             // Closed candles required on one side of the MA
	OffsetPercent   decimal.Decimal // Entry trigger slack around the MA line

	TakeProfitPercent decimal.Decimal
	StopLossPercent   decimal.Decimal
	BaseOrderSize     decimal.Decimal // Quote currency
	Direction         DirectionFilter

	// Martingale-style loss recovery. Drawdown scaling and stepped mode are
	// mutually exclusive refinements of the classic scheme.
	Martingale            bool
	MartingaleCoefficient decimal.Decimal
	Stepped               bool
	StepSize              int
	DrawdownScaling       bool
	ReferenceBalance      decimal.Decimal
	DrawdownPercent       decimal.Decimal
	TargetPercent         decimal.Decimal
}

// Validate checks the config fields the execution core depends on.
func (c *StrategyConfig) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Symbol) == "" {
		errs = append(errs, "symbol must be set")
	}
	if _, err := TimeframeDuration(c.Timeframe); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Indicator != SMA && c.Indicator != EMA {
		errs = append(errs, fmt.Sprintf("unsupported indicator kind %q", c.Indicator))
	}
	if c.IndicatorLength <= 0 {
		errs = append(errs, "indicator length must be positive")
	}
	if c.TrendThreshold < 0 {
		errs = append(errs, "trend threshold cannot be negative")
	}
	if c.OffsetPercent.IsNegative() {
		errs = append(errs, "offset percent cannot be negative")
	}
	if !c.TakeProfitPercent.IsPositive() {
		errs = append(errs, "take profit percent must be positive")
	}
	if !c.StopLossPercent.IsPositive() {
		errs = append(errs, "stop loss percent must be positive")
	}
	if !c.BaseOrderSize.IsPositive() {
		errs = append(errs, "base order size must be positive")
	}
	if c.Martingale {
		if !c.MartingaleCoefficient.IsPositive() {
			errs = append(errs, "martingale coefficient must be positive")
		}
		if c.Stepped && c.StepSize <= 0 {
			errs = append(errs, "martingale step size must be positive")
		}
		if c.DrawdownScaling && c.Stepped {
			errs = append(errs, "drawdown scaling and stepped martingale are mutually exclusive")
		}
		if c.DrawdownScaling && (!c.DrawdownPercent.IsPositive() || !c.TargetPercent.IsPositive()) {
			errs = append(errs, "drawdown and target percents must be positive when drawdown scaling is enabled")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StrategyState is the mutable per-strategy snapshot persisted between
// ticks. It is a plain value updated by the engine's transition logic; the
// store commits the whole blob atomically after a tick completes.
type StrategyState struct {
	LongCount  int `json:"longCount"`
	ShortCount int `json:"shortCount"`

	// At most one of these is non-nil at any time.
	OpenLong  *OpenPosition `json:"openLong,omitempty"`
	OpenShort *OpenPosition `json:"openShort,omitempty"`

	LastCandleTime time.Time `json:"lastCandleTime"`

	// One-shot flags set on close so the very next candle cannot re-enter
	// in the same direction.
	SkipLongCandle  bool `json:"skipLongCandle"`
	SkipShortCandle bool `json:"skipShortCandle"`

	ConsecutiveLosses int             `json:"consecutiveLosses"`
	RunningPnl        decimal.Decimal `json:"runningPnl"`
}

// HasOpenPosition reports whether either direction holds a position.
func (s *StrategyState) HasOpenPosition() bool {
	return s.OpenLong != nil || s.OpenShort != nil
}

// Position returns the open position for the given direction, or nil.
func (s *StrategyState) Position(d Direction) *OpenPosition {
	if d == Short {
		return s.OpenShort
	}
	return s.OpenLong
}

// ResetForStart returns the state a strategy is re-armed with. Counters,
// positions and flags clear; loss-recovery memory (ConsecutiveLosses,
// RunningPnl) survives manual stop/start cycles.
func (s StrategyState) ResetForStart() StrategyState {
	return StrategyState{
		ConsecutiveLosses: s.ConsecutiveLosses,
		RunningPnl:        s.RunningPnl,
	}
}
