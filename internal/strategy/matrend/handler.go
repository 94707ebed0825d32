// Package matrend implements the moving-average trend-following strategy
// handler: wait for price to hold one side of the MA for a configured number
// of closed candles, enter when price touches the offset-adjusted line, exit
// on take-profit or stop-loss.
package matrend

import (
	"context"
	"fmt"
	"time"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
	"trendbot/internal/strategy/engine"
)

// Type is the handler key strategies reference in their config.
const Type = "ma-trend"

// candleFetchPadding covers the currently forming candle plus venue quirks
// around interval boundaries.
const candleFetchPadding = 2

// Handler drives one live tick of the strategy through the shared engine.
type Handler struct {
	logger ports.Logger
	engine *engine.Engine
	now    func() time.Time
}

// New creates the live handler.
func New(logger ports.Logger) (*Handler, error) {
	eng, err := engine.New(logger)
	if err != nil {
		return nil, err
	}
	return &Handler{logger: logger, engine: eng, now: time.Now}, nil
}

// Tick advances the strategy by one scheduler tick: TP/SL check against the
// live price first, then counter/entry processing of the latest closed
// candle. Trades returned alongside an error reflect orders that already
// executed and must still be persisted.
func (h *Handler) Tick(ctx context.Context, cfg *domain.StrategyConfig, state *domain.StrategyState, gw ports.Gateway) ([]domain.Trade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidConfig, err)
	}

	var trades []domain.Trade

	if state.HasOpenPosition() {
		price, err := gw.GetLastPrice(ctx, cfg.Symbol)
		if err != nil {
			return nil, fmt.Errorf("fetching price for %s: %w", cfg.Symbol, err)
		}
		exits, err := h.engine.CheckExits(ctx, cfg, state, engine.QuoteFromPrice(price), gw)
		trades = append(trades, exits...)
		if err != nil {
			return trades, err
		}
	}

	limit := cfg.IndicatorLength + candleFetchPadding
	candles, err := gw.GetCandles(ctx, cfg.Symbol, cfg.Timeframe, limit)
	if err != nil {
		return trades, fmt.Errorf("fetching candles for %s: %w", cfg.Symbol, err)
	}
	closed := closedOnly(candles, h.now())

	entries, err := h.engine.ProcessCandle(ctx, cfg, state, closed, gw)
	trades = append(trades, entries...)
	if err != nil {
		return trades, err
	}

	if len(closed) < cfg.IndicatorLength {
		return trades, fmt.Errorf("%w: %d closed candles for indicator length %d",
			ports.ErrInsufficientHistory, len(closed), cfg.IndicatorLength)
	}
	return trades, nil
}

func closedOnly(candles []domain.Candle, now time.Time) []domain.Candle {
	closed := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if c.IsClosedAt(now) {
			closed = append(closed, c)
		}
	}
	return closed
}
