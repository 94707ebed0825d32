package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenPosition is the record of a single open position held by a strategy.
// Sizing and PnL math run against OrderSize (the quote-currency amount spent
// at entry), not against Quantity.
type OpenPosition struct {
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderSize  decimal.Decimal `json:"orderSize"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	OrderID    int64           `json:"orderId"`
	OpenedAt   time.Time       `json:"openedAt"`
}

// PnlPercent returns the signed percentage return of the position at the
// given exit price.
func (p *OpenPosition) PnlPercent(exitPrice decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if p.Direction == Short {
		return p.EntryPrice.Sub(exitPrice).Div(p.EntryPrice).Mul(hundred)
	}
	return exitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
}
