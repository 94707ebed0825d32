package backtesting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
	"trendbot/internal/strategy/analytics"
	"trendbot/internal/strategy/engine"
)

// Config holds the parameters of one replay run.
type Config struct {
	Strategy domain.StrategyConfig

	// UseCandleRange checks exits against each candle's high/low instead of
	// its close. When the range spans both levels the engine's SL-before-TP
	// order makes the conservative stop-loss outcome win. Off by default so
	// a replay matches a live run fed the same closes.
	UseCandleRange bool
}

// Result is the replay output: the trade list, the state the run finished
// in, and the aggregate summary.
type Result struct {
	Trades     []domain.Trade
	FinalState domain.StrategyState
	Summary    analytics.Summary
}

// Run replays a fixed candle series through the same decision engine the
// live scheduler drives, using each candle's close as the synthetic current
// price. Identical inputs therefore produce the identical trade sequence as
// a live run.
func Run(ctx context.Context, logger ports.Logger, cfg Config, candles []domain.Candle) (*Result, error) {
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidConfig, err)
	}
	if len(candles) < cfg.Strategy.IndicatorLength {
		return nil, fmt.Errorf("%w: %d candles for indicator length %d",
			ports.ErrInsufficientHistory, len(candles), cfg.Strategy.IndicatorLength)
	}

	eng, err := engine.New(logger)
	if err != nil {
		return nil, err
	}

	state := domain.StrategyState{}
	sink := &simulatedSink{}
	var trades []domain.Trade

	for i := cfg.Strategy.IndicatorLength - 1; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candle := candles[i]
		sink.mark = candle.Close
		sink.at = candle.CloseTime

		quote := engine.QuoteFromPrice(candle.Close)
		if cfg.UseCandleRange {
			quote.High = candle.High
			quote.Low = candle.Low
		}

		exits, err := eng.CheckExits(ctx, &cfg.Strategy, &state, quote, sink)
		if err != nil {
			return nil, fmt.Errorf("replay exit at candle %d: %w", i, err)
		}
		trades = append(trades, exits...)

		entries, err := eng.ProcessCandle(ctx, &cfg.Strategy, &state, candles[:i+1], sink)
		if err != nil {
			return nil, fmt.Errorf("replay candle %d: %w", i, err)
		}
		trades = append(trades, entries...)
	}

	return &Result{
		Trades:     trades,
		FinalState: state,
		Summary:    analytics.Summarize(trades, &state),
	}, nil
}

// simulatedSink fills every order at the current synthetic mark price with
// no lot-step or minimum-quantity constraints.
type simulatedSink struct {
	mark        decimal.Decimal
	at          time.Time
	nextOrderID int64
}

func (s *simulatedSink) fill(symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	if s.mark.IsZero() {
		return nil, ports.ErrPriceUnavailable
	}
	s.nextOrderID++
	return &ports.OrderResult{
		OrderID:    s.nextOrderID,
		Symbol:     symbol,
		Price:      s.mark,
		Quantity:   quantity,
		ExecutedAt: s.at,
	}, nil
}

func (s *simulatedSink) OpenLong(_ context.Context, symbol string, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	if s.mark.IsZero() {
		return nil, ports.ErrPriceUnavailable
	}
	return s.fill(symbol, quoteAmount.Div(s.mark).Round(8))
}

func (s *simulatedSink) OpenShort(_ context.Context, symbol string, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	if s.mark.IsZero() {
		return nil, ports.ErrPriceUnavailable
	}
	return s.fill(symbol, quoteAmount.Div(s.mark).Round(8))
}

func (s *simulatedSink) CloseLong(_ context.Context, symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	return s.fill(symbol, quantity)
}

func (s *simulatedSink) CloseShort(_ context.Context, symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	return s.fill(symbol, quantity)
}
