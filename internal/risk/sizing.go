package risk

import (
	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// NextOrderSize computes the quote-currency size for the next entry given
// the strategy's loss-recovery configuration and running state. The result
// is rounded to cents.
//
// The single mutating path is the drawdown-scaling target reset: when the
// running PnL has recovered to the target threshold, RunningPnl is zeroed
// and the base size is used again. Every other branch is read-only, so
// repeated calls with unchanged state return the same value.
func NextOrderSize(cfg *domain.StrategyConfig, state *domain.StrategyState) decimal.Decimal {
	if !cfg.Martingale {
		return cfg.BaseOrderSize.Round(2)
	}

	if cfg.DrawdownScaling && cfg.ReferenceBalance.IsPositive() {
		return drawdownScaledSize(cfg, state)
	}

	if state.ConsecutiveLosses > 0 {
		steps := state.ConsecutiveLosses
		if cfg.Stepped {
			steps = state.ConsecutiveLosses / cfg.StepSize
		}
		if steps > 0 {
			factor := cfg.MartingaleCoefficient.Pow(decimal.NewFromInt(int64(steps)))
			return cfg.BaseOrderSize.Mul(factor).Round(2)
		}
	}
	return cfg.BaseOrderSize.Round(2)
}

func drawdownScaledSize(cfg *domain.StrategyConfig, state *domain.StrategyState) decimal.Decimal {
	drawdownThreshold := cfg.ReferenceBalance.Mul(cfg.DrawdownPercent).Div(hundred)
	targetThreshold := cfg.ReferenceBalance.Mul(cfg.TargetPercent).Div(hundred)

	switch {
	case state.RunningPnl.LessThanOrEqual(drawdownThreshold.Neg()):
		levels := state.RunningPnl.Neg().Div(drawdownThreshold).Floor()
		factor := cfg.MartingaleCoefficient.Pow(levels)
		return cfg.BaseOrderSize.Mul(factor).Round(2)
	case state.RunningPnl.GreaterThanOrEqual(targetThreshold):
		// Recovery target reached: drop the accumulated PnL memory.
		state.RunningPnl = decimal.Zero
		return cfg.BaseOrderSize.Round(2)
	default:
		return cfg.BaseOrderSize.Round(2)
	}
}

// RecordOutcome folds a closed position's result into the loss-recovery
// state. It is a no-op when martingale is disabled; entries never call it.
func RecordOutcome(cfg *domain.StrategyConfig, state *domain.StrategyState, pnlPercent, orderSize decimal.Decimal) {
	if !cfg.Martingale {
		return
	}
	state.RunningPnl = state.RunningPnl.Add(orderSize.Mul(pnlPercent).Div(hundred))
	if pnlPercent.IsPositive() {
		state.ConsecutiveLosses = 0
	} else {
		state.ConsecutiveLosses++
	}
}
