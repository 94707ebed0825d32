// Package sqlite implements the persistence ports on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.StrategyRepository, ports.TradeRepository,
// ports.StrategyLogRepository and ports.AccountStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trendbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: a proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS strategies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		indicator TEXT NOT NULL,
		indicator_length INTEGER NOT NULL,
		trend_threshold INTEGER NOT NULL,
		offset_percent TEXT NOT NULL,
		take_profit_percent TEXT NOT NULL,
		stop_loss_percent TEXT NOT NULL,
		base_order_size TEXT NOT NULL,
		direction TEXT NOT NULL,
		martingale INTEGER NOT NULL DEFAULT 0,
		martingale_coefficient TEXT NOT NULL DEFAULT '0',
		stepped INTEGER NOT NULL DEFAULT 0,
		step_size INTEGER NOT NULL DEFAULT 0,
		drawdown_scaling INTEGER NOT NULL DEFAULT 0,
		reference_balance TEXT NOT NULL DEFAULT '0',
		drawdown_percent TEXT NOT NULL DEFAULT '0',
		target_percent TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 0,
		api_key TEXT NOT NULL DEFAULT '',
		secret_key TEXT NOT NULL DEFAULT '',
		testnet INTEGER NOT NULL DEFAULT 0,
		proxy_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS strategy_state (
		strategy_id INTEGER PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		order_size TEXT NOT NULL,
		pnl TEXT NULL,
		pnl_percent TEXT NULL,
		reason TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS strategy_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_strategies_active ON strategies (active);
	CREATE INDEX IF NOT EXISTS idx_trade_history_strategy ON trade_history (strategy_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_strategy_logs_strategy ON strategy_logs (strategy_id, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StrategyRepository Implementation ---

const strategyColumns = `
	id, type, symbol, timeframe, indicator, indicator_length, trend_threshold,
	offset_percent, take_profit_percent, stop_loss_percent, base_order_size, direction,
	martingale, martingale_coefficient, stepped, step_size,
	drawdown_scaling, reference_balance, drawdown_percent, target_percent`

// FindActive retrieves the configs of all strategies currently flagged running.
func (r *Repository) FindActive(ctx context.Context) ([]*domain.StrategyConfig, error) {
	query := `SELECT` + strategyColumns + ` FROM strategies WHERE active = 1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active strategies: %w: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	configs := make([]*domain.StrategyConfig, 0)
	for rows.Next() {
		cfg, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy during FindActive: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy rows: %w", err)
	}
	return configs, nil
}

// CreateStrategy stores a new strategy config with its account binding and
// returns the assigned ID. New strategies start inactive.
func (r *Repository) CreateStrategy(ctx context.Context, cfg *domain.StrategyConfig, account ports.Account) (int64, error) {
	const query = `
	INSERT INTO strategies (type, symbol, timeframe, indicator, indicator_length, trend_threshold,
	                        offset_percent, take_profit_percent, stop_loss_percent, base_order_size, direction,
	                        martingale, martingale_coefficient, stepped, step_size,
	                        drawdown_scaling, reference_balance, drawdown_percent, target_percent,
	                        active, api_key, secret_key, testnet, proxy_url)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		cfg.Type, cfg.Symbol, cfg.Timeframe, string(cfg.Indicator), cfg.IndicatorLength, cfg.TrendThreshold,
		cfg.OffsetPercent.String(), cfg.TakeProfitPercent.String(), cfg.StopLossPercent.String(),
		cfg.BaseOrderSize.String(), string(cfg.Direction),
		cfg.Martingale, cfg.MartingaleCoefficient.String(), cfg.Stepped, cfg.StepSize,
		cfg.DrawdownScaling, cfg.ReferenceBalance.String(), cfg.DrawdownPercent.String(), cfg.TargetPercent.String(),
		account.APIKey, account.SecretKey, account.Testnet, account.ProxyURL)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy for symbol %s: %w", cfg.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for strategy %s: %w", cfg.Symbol, err)
	}
	cfg.ID = id
	return id, nil
}

// SetActive flips a strategy's run flag. Starting a strategy re-arms its
// state first so stale counters never leak into the new run.
func (r *Repository) SetActive(ctx context.Context, strategyID int64, active bool) error {
	if active {
		if err := r.ResetStateForStart(ctx, strategyID); err != nil {
			return err
		}
	}
	const query = `UPDATE strategies SET active = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, active, strategyID)
	if err != nil {
		return fmt.Errorf("failed to update run flag for strategy %d: %w", strategyID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for strategy %d: %w", strategyID, err)
	}
	if affected == 0 {
		return fmt.Errorf("strategy %d: %w", strategyID, ports.ErrNotFound)
	}
	return nil
}

// LoadState retrieves the persisted state for a strategy. A strategy without
// a stored blob yet gets a zero state.
func (r *Repository) LoadState(ctx context.Context, strategyID int64) (*domain.StrategyState, error) {
	const query = `SELECT state FROM strategy_state WHERE strategy_id = ?`

	var blob string
	err := r.db.QueryRowContext(ctx, query, strategyID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.StrategyState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query state for strategy %d: %w", strategyID, err)
	}

	state := &domain.StrategyState{}
	if err := json.Unmarshal([]byte(blob), state); err != nil {
		return nil, fmt.Errorf("failed to decode state for strategy %d: %w", strategyID, err)
	}
	return state, nil
}

// SaveState persists the whole state blob atomically.
func (r *Repository) SaveState(ctx context.Context, strategyID int64, state *domain.StrategyState) error {
	return r.saveState(ctx, r.db, strategyID, state)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) saveState(ctx context.Context, db execer, strategyID int64, state *domain.StrategyState) error {
	const query = `
	INSERT INTO strategy_state (strategy_id, state, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(strategy_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for strategy %d: %w", strategyID, err)
	}
	if _, err := db.ExecContext(ctx, query, strategyID, string(blob), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save state for strategy %d: %w", strategyID, err)
	}
	return nil
}

// SaveTickResult persists the state blob and the tick's trades in one
// transaction.
func (r *Repository) SaveTickResult(ctx context.Context, strategyID int64, state *domain.StrategyState, trades []domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tick transaction for strategy %d: %w: %v", strategyID, ports.ErrDBConnection, err)
	}
	defer tx.Rollback()

	if err := r.saveState(ctx, tx, strategyID, state); err != nil {
		return err
	}
	for i := range trades {
		id, err := r.createTrade(ctx, tx, &trades[i])
		if err != nil {
			return err
		}
		trades[i].ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tick transaction for strategy %d: %w", strategyID, err)
	}
	r.logger.Debug(ctx, "Tick result persisted", map[string]interface{}{"strategyID": strategyID, "trades": len(trades)})
	return nil
}

// ResetStateForStart re-arms a strategy, clearing everything except the
// loss-recovery memory.
func (r *Repository) ResetStateForStart(ctx context.Context, strategyID int64) error {
	state, err := r.LoadState(ctx, strategyID)
	if err != nil {
		return err
	}
	reset := state.ResetForStart()
	return r.SaveState(ctx, strategyID, &reset)
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	id, err := r.createTrade(ctx, r.db, trade)
	if err != nil {
		return 0, err
	}
	trade.ID = id
	return id, nil
}

func (r *Repository) createTrade(ctx context.Context, db execer, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (strategy_id, symbol, side, action, quantity, price,
	                           order_size, pnl, pnl_percent, reason, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.ExecContext(ctx, query,
		trade.StrategyID, trade.Symbol, string(trade.Side), string(trade.Action),
		trade.Quantity.String(), trade.Price.String(), trade.OrderSize.String(),
		nullDecimalString(trade.Pnl), nullDecimalString(trade.PnlPercent),
		string(trade.Reason), trade.ExecutedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for strategy %d: %w", trade.StrategyID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade of strategy %d: %w", trade.StrategyID, err)
	}
	return id, nil
}

// FindByStrategy retrieves the most recent trades for a strategy, up to a limit.
func (r *Repository) FindByStrategy(ctx context.Context, strategyID int64, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, strategy_id, symbol, side, action, quantity, price, order_size,
	       pnl, pnl_percent, reason, executed_at
	FROM trade_history
	WHERE strategy_id = ? ORDER BY executed_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for strategy %d: %w", strategyID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindByStrategy: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- StrategyLogRepository Implementation ---

// Append records a per-strategy log line for the reporting surfaces.
func (r *Repository) Append(ctx context.Context, strategyID int64, level, message string) error {
	const query = `INSERT INTO strategy_logs (strategy_id, level, message, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, strategyID, level, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to append log for strategy %d: %w", strategyID, err)
	}
	return nil
}

// --- AccountStore Implementation ---

// AccountFor resolves the exchange account a strategy trades with.
func (r *Repository) AccountFor(ctx context.Context, strategyID int64) (ports.Account, error) {
	const query = `SELECT api_key, secret_key, testnet, proxy_url FROM strategies WHERE id = ?`

	var account ports.Account
	err := r.db.QueryRowContext(ctx, query, strategyID).Scan(
		&account.APIKey, &account.SecretKey, &account.Testnet, &account.ProxyURL)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Account{}, fmt.Errorf("strategy %d: %w", strategyID, ports.ErrNotFound)
	}
	if err != nil {
		return ports.Account{}, fmt.Errorf("failed to query account for strategy %d: %w", strategyID, err)
	}
	return account, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanStrategy scans a row into a domain.StrategyConfig.
func scanStrategy(s scanner) (*domain.StrategyConfig, error) {
	cfg := &domain.StrategyConfig{}
	var indicator, direction string
	var offset, tp, sl, base, coeff, refBalance, drawdown, target string
	err := s.Scan(
		&cfg.ID, &cfg.Type, &cfg.Symbol, &cfg.Timeframe, &indicator,
		&cfg.IndicatorLength, &cfg.TrendThreshold,
		&offset, &tp, &sl, &base, &direction,
		&cfg.Martingale, &coeff, &cfg.Stepped, &cfg.StepSize,
		&cfg.DrawdownScaling, &refBalance, &drawdown, &target)
	if err != nil {
		return nil, err
	}
	cfg.Indicator = domain.IndicatorKind(indicator)
	cfg.Direction = domain.DirectionFilter(direction)

	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"offset_percent", offset, &cfg.OffsetPercent},
		{"take_profit_percent", tp, &cfg.TakeProfitPercent},
		{"stop_loss_percent", sl, &cfg.StopLossPercent},
		{"base_order_size", base, &cfg.BaseOrderSize},
		{"martingale_coefficient", coeff, &cfg.MartingaleCoefficient},
		{"reference_balance", refBalance, &cfg.ReferenceBalance},
		{"drawdown_percent", drawdown, &cfg.DrawdownPercent},
		{"target_percent", target, &cfg.TargetPercent},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", field.name, field.raw, err)
		}
		*field.dst = d
	}
	return cfg, nil
}

// scanTrade scans a row into a domain.Trade.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, action, reason string
	var quantity, price, orderSize string
	var pnl, pnlPercent sql.NullString
	err := s.Scan(
		&t.ID, &t.StrategyID, &t.Symbol, &side, &action, &quantity, &price,
		&orderSize, &pnl, &pnlPercent, &reason, &t.ExecutedAt)
	if err != nil {
		return nil, err
	}
	t.Side = domain.Direction(side)
	t.Action = domain.TradeAction(action)
	t.Reason = domain.TradeReason(reason)

	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parsing quantity %q: %w", quantity, err)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parsing price %q: %w", price, err)
	}
	if t.OrderSize, err = decimal.NewFromString(orderSize); err != nil {
		return nil, fmt.Errorf("parsing order size %q: %w", orderSize, err)
	}
	if t.Pnl, err = parseNullDecimal(pnl); err != nil {
		return nil, fmt.Errorf("parsing pnl: %w", err)
	}
	if t.PnlPercent, err = parseNullDecimal(pnlPercent); err != nil {
		return nil, fmt.Errorf("parsing pnl percent: %w", err)
	}
	return t, nil
}

func nullDecimalString(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
