package analytics

import (
	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
)

// Summary aggregates a trade list into the presentation-agnostic statistics
// consumed by reporting layers.
type Summary struct {
	Entries       int
	Closes        int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal // Fraction of closes with positive PnL
	TotalPnl      decimal.Decimal // Realized dollar PnL
	AveragePnl    decimal.Decimal // Per closed trade
	OpenPositions int             // Positions still open at the end of the run
	MaxOrderSize  decimal.Decimal // Largest order size reached (martingale peak)
}

// Summarize computes the summary for a trade sequence and the state the run
// finished in.
func Summarize(trades []domain.Trade, finalState *domain.StrategyState) Summary {
	s := Summary{}
	for _, t := range trades {
		if t.OrderSize.GreaterThan(s.MaxOrderSize) {
			s.MaxOrderSize = t.OrderSize
		}
		if t.Action == domain.ActionOpen {
			s.Entries++
			continue
		}
		s.Closes++
		if t.Pnl != nil {
			s.TotalPnl = s.TotalPnl.Add(*t.Pnl)
			if t.Pnl.IsPositive() {
				s.WinningTrades++
			} else {
				s.LosingTrades++
			}
		}
	}
	if s.Closes > 0 {
		closes := decimal.NewFromInt(int64(s.Closes))
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(closes)
		s.AveragePnl = s.TotalPnl.Div(closes)
	}
	if finalState != nil && finalState.HasOpenPosition() {
		s.OpenPositions = 1
	}
	return s
}
