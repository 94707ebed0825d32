package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
)

// OrderResult represents the essential details of an executed market order.
type OrderResult struct {
	OrderID    int64           // Exchange's order ID
	Symbol     string          // Canonical symbol the order was placed for
	Price      decimal.Decimal // Average fill price (zero if the venue omitted it)
	Quantity   decimal.Decimal // Base-asset quantity filled
	ExecutedAt time.Time       // Time the order was executed
}

// Gateway is the normalized market-data and order interface implemented once
// per exchange. Symbol naming is translated to the venue's spelling inside
// the adapter; callers always pass the canonical "BASE-QUOTE" form.
type Gateway interface {
	OrderSink

	// GetCandles retrieves the most recent candles for the symbol and
	// timeframe, oldest first.
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)

	// GetLastPrice retrieves the last traded price for the symbol.
	// Returns ErrPriceUnavailable when the venue has no price.
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderSink is the order-placement subset of Gateway consumed by the
// strategy engine. The live path passes a real Gateway; the replay engine
// passes a simulated fill recorder.
type OrderSink interface {
	// OpenLong opens a long market position spending quoteAmount of the
	// quote currency. The adapter rounds the derived quantity down to the
	// venue's lot step and fails with ErrBelowMinimumQuantity (placing no
	// order) when the result is under the venue minimum.
	OpenLong(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*OrderResult, error)
	// OpenShort is the short-side counterpart of OpenLong.
	OpenShort(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*OrderResult, error)
	// CloseLong closes a long position with the stored quantity as-is.
	CloseLong(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error)
	// CloseShort closes a short position with the stored quantity as-is.
	CloseShort(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error)
}

// Account carries the per-exchange-account credentials supplied by the
// external credential store, already decrypted.
type Account struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	ProxyURL  string // Optional proxy descriptor, empty for direct access
}

// GatewayFactory builds a Gateway bound to one exchange account.
type GatewayFactory func(account Account) (Gateway, error)

// AccountStore resolves the exchange account a strategy trades with. The
// backing credential store decrypts keys before handing them out.
type AccountStore interface {
	AccountFor(ctx context.Context, strategyID int64) (Account, error)
}
