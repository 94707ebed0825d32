package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an append-only ledger entry. Entries carry a nil Pnl/PnlPercent;
// closes carry the realized values.
type Trade struct {
	ID         int64            // Assigned by the store
	StrategyID int64            // Strategy that produced the trade
	Symbol     string           // Canonical symbol (e.g. "BTC-USDT")
	Side       Direction        // Position side the trade belongs to
	Action     TradeAction      // Entry fill or position close
	Quantity   decimal.Decimal  // Base-asset quantity executed
	Price      decimal.Decimal  // Fill price
	OrderSize  decimal.Decimal  // Quote-currency order size of the position
	Pnl        *decimal.Decimal // Realized dollar PnL, nil for entries
	PnlPercent *decimal.Decimal // Realized percentage PnL, nil for entries
	Reason     TradeReason      // Filled, TakeProfit or StopLoss
	ExecutedAt time.Time        // Execution timestamp
}

// IsWin reports whether the trade is a close with positive realized PnL.
func (t *Trade) IsWin() bool {
	return t.Action == ActionClose && t.Pnl != nil && t.Pnl.IsPositive()
}
