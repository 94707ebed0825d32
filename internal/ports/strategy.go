package ports

import (
	"context"

	"trendbot/internal/domain"
)

// StrategyHandler advances one strategy's state machine by a single tick.
// The scheduler resolves the handler for a config's Type and runs it with a
// Gateway bound to the strategy's exchange account. Implementations mutate
// state in place and return the trades produced this tick; partial results
// accompanying a non-nil error reflect orders that already executed and must
// still be persisted.
type StrategyHandler interface {
	Tick(ctx context.Context, cfg *domain.StrategyConfig, state *domain.StrategyState, gw Gateway) ([]domain.Trade, error)
}
