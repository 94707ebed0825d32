package domain

// Direction represents the side of a position (long or short).
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// DirectionFilter restricts which sides a strategy may trade.
type DirectionFilter string

const (
	LongOnly  DirectionFilter = "long"
	ShortOnly DirectionFilter = "short"
	BothSides DirectionFilter = "both"
)

// Allows reports whether the filter permits trading the given direction.
func (f DirectionFilter) Allows(d Direction) bool {
	switch f {
	case LongOnly:
		return d == Long
	case ShortOnly:
		return d == Short
	default:
		return true
	}
}

// IndicatorKind selects the moving average type used by a strategy.
type IndicatorKind string

const (
	SMA IndicatorKind = "SMA"
	EMA IndicatorKind = "EMA"
)

// TradeAction distinguishes entry fills from position closes in the ledger.
type TradeAction string

const (
	ActionOpen  TradeAction = "open"
	ActionClose TradeAction = "close"
)

// TradeReason indicates why an order was executed.
type TradeReason string

const (
	ReasonFilled     TradeReason = "Filled"
	ReasonTakeProfit TradeReason = "TakeProfit"
	ReasonStopLoss   TradeReason = "StopLoss"
)
