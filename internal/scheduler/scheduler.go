package scheduler

import (
	"context"
	"fmt"
	"time"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// Config holds scheduler timing parameters.
type Config struct {
	// Interval between cycles. Cycle n+1 never starts before cycle n has
	// finished every strategy.
	Interval time.Duration
	// TickBudget bounds a single strategy's tick. Zero means no budget.
	TickBudget time.Duration
}

// Scheduler advances all currently active strategies once per cycle. Each
// strategy is isolated: its errors and panics are logged against it and the
// cycle moves on. Store failure is the fatal exception, on the active-set
// read and on persisting a tick result alike: a tick may carry trades for
// orders that already executed on the exchange, so the scheduler halts
// rather than keep trading on top of an unrecorded fill.
type Scheduler struct {
	cfg        Config
	logger     ports.Logger
	strategies ports.StrategyRepository
	logs       ports.StrategyLogRepository
	accounts   ports.AccountStore
	newGateway ports.GatewayFactory
	handlers   map[string]ports.StrategyHandler
}

// New creates a scheduler instance.
func New(
	cfg Config,
	logger ports.Logger,
	strategies ports.StrategyRepository,
	logs ports.StrategyLogRepository,
	accounts ports.AccountStore,
	newGateway ports.GatewayFactory,
	handlers map[string]ports.StrategyHandler,
) (*Scheduler, error) {
	if logger == nil || strategies == nil || logs == nil || accounts == nil || newGateway == nil {
		return nil, fmt.Errorf("missing required dependencies for scheduler")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("at least one strategy handler is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	return &Scheduler{
		cfg:        cfg,
		logger:     logger,
		strategies: strategies,
		logs:       logs,
		accounts:   accounts,
		newGateway: newGateway,
		handlers:   handlers,
	}, nil
}

// Run executes cycles until the context is cancelled or the store fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Scheduler started", map[string]interface{}{"interval": s.cfg.Interval.String()})
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logger.Error(ctx, err, "Scheduler cycle failed fatally")
			return err
		}
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle re-reads the active set from the store and advances each strategy
// exactly once. The set is never cached so the external start/stop flags
// take effect on the next cycle.
func (s *Scheduler) runCycle(ctx context.Context) error {
	configs, err := s.strategies.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("loading active strategies: %w", err)
	}

	for _, cfg := range configs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.runStrategy(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// runStrategy advances one strategy. A non-nil return means the tick result
// could not be persisted and the scheduler must stop issuing ticks.
func (s *Scheduler) runStrategy(ctx context.Context, cfg *domain.StrategyConfig) error {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("strategy tick panicked: %v", r)
			s.logger.Error(ctx, err, "Recovered from strategy panic", map[string]interface{}{"strategyID": cfg.ID})
			s.appendLog(ctx, cfg.ID, "error", err.Error())
		}
	}()

	tickCtx := ctx
	if s.cfg.TickBudget > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, s.cfg.TickBudget)
		defer cancel()
	}

	handler, ok := s.handlers[cfg.Type]
	if !ok {
		err := fmt.Errorf("no handler registered for strategy type %q", cfg.Type)
		s.logger.Error(ctx, err, "Skipping strategy", map[string]interface{}{"strategyID": cfg.ID})
		s.appendLog(ctx, cfg.ID, "error", err.Error())
		return nil
	}

	account, err := s.accounts.AccountFor(tickCtx, cfg.ID)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to resolve exchange account", map[string]interface{}{"strategyID": cfg.ID})
		s.appendLog(ctx, cfg.ID, "error", fmt.Sprintf("resolving account: %v", err))
		return nil
	}
	gw, err := s.newGateway(account)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to construct gateway", map[string]interface{}{"strategyID": cfg.ID})
		s.appendLog(ctx, cfg.ID, "error", fmt.Sprintf("constructing gateway: %v", err))
		return nil
	}

	state, err := s.strategies.LoadState(tickCtx, cfg.ID)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load strategy state", map[string]interface{}{"strategyID": cfg.ID})
		return nil
	}

	trades, tickErr := handler.Tick(tickCtx, cfg, state, gw)

	// Persist with the parent context: a budget expiry must not discard the
	// effects of orders that already executed. A failed save is fatal, the
	// trades may reference fills the exchange already holds.
	if err := s.strategies.SaveTickResult(ctx, cfg.ID, state, trades); err != nil {
		s.logger.Error(ctx, err, "Failed to persist tick result", map[string]interface{}{"strategyID": cfg.ID, "trades": len(trades)})
		return fmt.Errorf("persisting tick result for strategy %d (%d trades): %w", cfg.ID, len(trades), err)
	}

	for _, trade := range trades {
		s.appendLog(ctx, cfg.ID, "info", fmt.Sprintf("%s %s %s @ %s (%s)",
			trade.Action, trade.Side, trade.Quantity, trade.Price, trade.Reason))
	}
	if tickErr != nil {
		s.logger.Warn(ctx, "Strategy tick ended with error", map[string]interface{}{"strategyID": cfg.ID, "error": tickErr.Error()})
		s.appendLog(ctx, cfg.ID, "error", tickErr.Error())
	}
	return nil
}

func (s *Scheduler) appendLog(ctx context.Context, strategyID int64, level, message string) {
	if err := s.logs.Append(ctx, strategyID, level, message); err != nil {
		s.logger.Warn(ctx, "Failed to append strategy log", map[string]interface{}{"strategyID": strategyID, "error": err.Error()})
	}
}
