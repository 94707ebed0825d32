package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
	"trendbot/internal/risk"
	"trendbot/internal/strategy/indicators"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Quote is the price input for an exit check. Live ticks carry a single last
// price; the replay engine may widen High/Low to the candle's range so both
// paths run through identical exit logic.
type Quote struct {
	Last decimal.Decimal
	High decimal.Decimal
	Low  decimal.Decimal
}

// QuoteFromPrice builds a point quote where the range collapses to the last
// price.
func QuoteFromPrice(price decimal.Decimal) Quote {
	return Quote{Last: price, High: price, Low: price}
}

// Engine holds the per-tick decision logic shared by the live scheduler and
// the replay engine. It owns no state of its own: every operation works on a
// caller-supplied StrategyState and reports resulting trades.
type Engine struct {
	logger ports.Logger
}

// New creates an Engine instance.
func New(logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for engine")
	}
	return &Engine{logger: logger}, nil
}

// CheckExits runs the TP/SL monitor for whichever position is open. The
// stop-loss level is checked before take-profit, so when a replay quote's
// range spans both levels the conservative stop-loss outcome wins.
//
// A sink failure leaves the position and counters untouched; the same exit
// fires again on the next tick.
func (e *Engine) CheckExits(ctx context.Context, cfg *domain.StrategyConfig, state *domain.StrategyState, quote Quote, sink ports.OrderSink) ([]domain.Trade, error) {
	if pos := state.OpenLong; pos != nil {
		switch {
		case quote.Low.LessThanOrEqual(pos.StopLoss):
			return e.closePosition(ctx, cfg, state, quote, sink, pos, domain.ReasonStopLoss)
		case quote.High.GreaterThanOrEqual(pos.TakeProfit):
			return e.closePosition(ctx, cfg, state, quote, sink, pos, domain.ReasonTakeProfit)
		}
	}
	if pos := state.OpenShort; pos != nil {
		switch {
		case quote.High.GreaterThanOrEqual(pos.StopLoss):
			return e.closePosition(ctx, cfg, state, quote, sink, pos, domain.ReasonStopLoss)
		case quote.Low.LessThanOrEqual(pos.TakeProfit):
			return e.closePosition(ctx, cfg, state, quote, sink, pos, domain.ReasonTakeProfit)
		}
	}
	return nil, nil
}

func (e *Engine) closePosition(ctx context.Context, cfg *domain.StrategyConfig, state *domain.StrategyState, quote Quote, sink ports.OrderSink, pos *domain.OpenPosition, reason domain.TradeReason) ([]domain.Trade, error) {
	var (
		result *ports.OrderResult
		err    error
	)
	if pos.Direction == domain.Short {
		result, err = sink.CloseShort(ctx, cfg.Symbol, pos.Quantity)
	} else {
		result, err = sink.CloseLong(ctx, cfg.Symbol, pos.Quantity)
	}
	if err != nil {
		return nil, fmt.Errorf("closing %s position on %s: %w", pos.Direction, cfg.Symbol, err)
	}

	exitPrice := result.Price
	if exitPrice.IsZero() {
		exitPrice = quote.Last
	}
	executedAt := result.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	pnlPercent := pos.PnlPercent(exitPrice)
	pnl := pos.OrderSize.Mul(pnlPercent).Div(hundred)
	risk.RecordOutcome(cfg, state, pnlPercent, pos.OrderSize)

	if pos.Direction == domain.Short {
		state.OpenShort = nil
		state.SkipShortCandle = true
		state.ShortCount = 0
	} else {
		state.OpenLong = nil
		state.SkipLongCandle = true
		state.LongCount = 0
	}

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"strategyID": cfg.ID,
		"symbol":     cfg.Symbol,
		"direction":  pos.Direction,
		"reason":     reason,
		"entryPrice": pos.EntryPrice,
		"exitPrice":  exitPrice,
		"pnl":        pnl,
	})

	return []domain.Trade{{
		StrategyID: cfg.ID,
		Symbol:     cfg.Symbol,
		Side:       pos.Direction,
		Action:     domain.ActionClose,
		Quantity:   pos.Quantity,
		Price:      exitPrice,
		OrderSize:  pos.OrderSize,
		Pnl:        &pnl,
		PnlPercent: &pnlPercent,
		Reason:     reason,
		ExecutedAt: executedAt,
	}}, nil
}

// ProcessCandle runs the counter and entry logic for the latest closed
// candle. Candles must be ordered oldest first with the candidate candle
// last; a candle whose close time is not strictly newer than the last
// processed one is ignored.
func (e *Engine) ProcessCandle(ctx context.Context, cfg *domain.StrategyConfig, state *domain.StrategyState, candles []domain.Candle, sink ports.OrderSink) ([]domain.Trade, error) {
	if len(candles) == 0 {
		return nil, nil
	}
	candle := candles[len(candles)-1]
	if !candle.CloseTime.After(state.LastCandleTime) {
		return nil, nil
	}
	state.LastCandleTime = candle.CloseTime

	ma, ok := indicators.CurrentValue(domain.ClosePrices(candles), cfg.Indicator, cfg.IndicatorLength)
	if !ok {
		e.logger.Debug(ctx, "Indicator undefined, skipping candle", map[string]interface{}{
			"strategyID": cfg.ID,
			"candles":    len(candles),
			"length":     cfg.IndicatorLength,
		})
		return nil, nil
	}

	offset := cfg.OffsetPercent.Div(hundred)
	longTrigger := ma.Mul(one.Add(offset))
	shortTrigger := ma.Mul(one.Sub(offset))
	longTriggerHit := candle.Low.LessThanOrEqual(longTrigger)
	shortTriggerHit := candle.High.GreaterThanOrEqual(shortTrigger)

	// The skip flags consume exactly one candle: neither the counter nor the
	// entry evaluation runs for that direction this candle, so closing and
	// re-entering on the same candle is impossible.
	longSkipped := state.SkipLongCandle
	shortSkipped := state.SkipShortCandle
	state.SkipLongCandle = false
	state.SkipShortCandle = false

	longEligible := cfg.Direction.Allows(domain.Long) && !longSkipped
	shortEligible := cfg.Direction.Allows(domain.Short) && !shortSkipped

	// At the threshold the counter holds: a candle either stays above the
	// trigger line (armed, waiting) or touches it, and touching always
	// includes a trend break since the line sits at or beyond the MA. The
	// entry evaluation below resolves the touch.
	if longEligible && !state.HasOpenPosition() {
		switch {
		case state.LongCount >= cfg.TrendThreshold:
		case candle.Low.GreaterThan(ma):
			state.LongCount++
		default:
			state.LongCount = 0
		}
	}
	if shortEligible && !state.HasOpenPosition() {
		switch {
		case state.ShortCount >= cfg.TrendThreshold:
		case candle.High.LessThan(ma):
			state.ShortCount++
		default:
			state.ShortCount = 0
		}
	}

	var trades []domain.Trade
	if longEligible && !state.HasOpenPosition() && state.LongCount >= cfg.TrendThreshold && longTriggerHit {
		trade, err := e.enterPosition(ctx, cfg, state, sink, domain.Long, candle)
		if err != nil {
			return trades, err
		}
		trades = append(trades, *trade)
	}
	if shortEligible && !state.HasOpenPosition() && state.ShortCount >= cfg.TrendThreshold && shortTriggerHit {
		trade, err := e.enterPosition(ctx, cfg, state, sink, domain.Short, candle)
		if err != nil {
			return trades, err
		}
		trades = append(trades, *trade)
	}
	return trades, nil
}

func (e *Engine) enterPosition(ctx context.Context, cfg *domain.StrategyConfig, state *domain.StrategyState, sink ports.OrderSink, direction domain.Direction, candle domain.Candle) (*domain.Trade, error) {
	size := risk.NextOrderSize(cfg, state)

	var (
		result *ports.OrderResult
		err    error
	)
	if direction == domain.Short {
		result, err = sink.OpenShort(ctx, cfg.Symbol, size)
	} else {
		result, err = sink.OpenLong(ctx, cfg.Symbol, size)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s position on %s: %w", direction, cfg.Symbol, err)
	}

	entryPrice := result.Price
	if entryPrice.IsZero() {
		entryPrice = candle.Close
	}
	executedAt := result.ExecutedAt
	if executedAt.IsZero() {
		executedAt = candle.CloseTime
	}

	tpFactor := cfg.TakeProfitPercent.Div(hundred)
	slFactor := cfg.StopLossPercent.Div(hundred)
	pos := &domain.OpenPosition{
		Direction:  direction,
		EntryPrice: entryPrice,
		Quantity:   result.Quantity,
		OrderSize:  size,
		OrderID:    result.OrderID,
		OpenedAt:   executedAt,
	}
	if direction == domain.Short {
		pos.TakeProfit = entryPrice.Mul(one.Sub(tpFactor))
		pos.StopLoss = entryPrice.Mul(one.Add(slFactor))
		state.OpenShort = pos
		state.ShortCount = 0
	} else {
		pos.TakeProfit = entryPrice.Mul(one.Add(tpFactor))
		pos.StopLoss = entryPrice.Mul(one.Sub(slFactor))
		state.OpenLong = pos
		state.LongCount = 0
	}

	e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"strategyID": cfg.ID,
		"symbol":     cfg.Symbol,
		"direction":  direction,
		"entryPrice": entryPrice,
		"quantity":   result.Quantity,
		"orderSize":  size,
		"takeProfit": pos.TakeProfit,
		"stopLoss":   pos.StopLoss,
	})

	return &domain.Trade{
		StrategyID: cfg.ID,
		Symbol:     cfg.Symbol,
		Side:       direction,
		Action:     domain.ActionOpen,
		Quantity:   result.Quantity,
		Price:      entryPrice,
		OrderSize:  size,
		Reason:     domain.ReasonFilled,
		ExecutedAt: executedAt,
	}, nil
}
