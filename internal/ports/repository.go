package ports

import (
	"context"

	"trendbot/internal/domain"
)

// StrategyRepository stores strategy configurations and their opaque state
// blobs. The run flag lives in the store and is owned by the external
// control surface; the scheduler only reads it.
type StrategyRepository interface {
	// FindActive retrieves the configs of all strategies currently flagged
	// running. Re-read every cycle, never cached.
	FindActive(ctx context.Context) ([]*domain.StrategyConfig, error)
	// LoadState retrieves the persisted state for a strategy. A strategy
	// without a stored blob yet gets a zero state.
	LoadState(ctx context.Context, strategyID int64) (*domain.StrategyState, error)
	// SaveState persists the whole state blob atomically.
	SaveState(ctx context.Context, strategyID int64, state *domain.StrategyState) error
	// SaveTickResult persists the state blob and the tick's trades in one
	// transaction, so a crash mid-tick never leaves partial results durable.
	SaveTickResult(ctx context.Context, strategyID int64, state *domain.StrategyState, trades []domain.Trade) error
	// ResetStateForStart re-arms a strategy, clearing everything except the
	// loss-recovery memory.
	ResetStateForStart(ctx context.Context, strategyID int64) error
}

// TradeRepository is the append-only trade ledger.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindByStrategy retrieves the most recent trades for a strategy.
	FindByStrategy(ctx context.Context, strategyID int64, limit int) ([]*domain.Trade, error)
}

// StrategyLogRepository appends per-strategy log lines for the reporting
// surfaces.
type StrategyLogRepository interface {
	Append(ctx context.Context, strategyID int64, level, message string) error
}
