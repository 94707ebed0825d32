package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// --- Test doubles ---

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (noopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (noopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (noopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type mockStrategyRepo struct {
	mu sync.Mutex

	active    []*domain.StrategyConfig
	activeErr error
	saveErr   error

	findActiveCalls int
	savedResults    map[int64]int // strategyID -> SaveTickResult calls
	savedTrades     map[int64][]domain.Trade
}

func newMockStrategyRepo(active ...*domain.StrategyConfig) *mockStrategyRepo {
	return &mockStrategyRepo{
		active:       active,
		savedResults: make(map[int64]int),
		savedTrades:  make(map[int64][]domain.Trade),
	}
}

func (m *mockStrategyRepo) FindActive(context.Context) ([]*domain.StrategyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findActiveCalls++
	return m.active, m.activeErr
}

func (m *mockStrategyRepo) LoadState(_ context.Context, strategyID int64) (*domain.StrategyState, error) {
	return &domain.StrategyState{}, nil
}

func (m *mockStrategyRepo) SaveState(context.Context, int64, *domain.StrategyState) error {
	return nil
}

func (m *mockStrategyRepo) SaveTickResult(_ context.Context, strategyID int64, _ *domain.StrategyState, trades []domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.savedResults[strategyID]++
	m.savedTrades[strategyID] = append(m.savedTrades[strategyID], trades...)
	return nil
}

func (m *mockStrategyRepo) ResetStateForStart(context.Context, int64) error { return nil }

type mockLogs struct {
	mu      sync.Mutex
	entries map[int64][]string
}

func newMockLogs() *mockLogs { return &mockLogs{entries: make(map[int64][]string)} }

func (m *mockLogs) Append(_ context.Context, strategyID int64, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[strategyID] = append(m.entries[strategyID], level+": "+message)
	return nil
}

type mockAccounts struct{ err error }

func (m *mockAccounts) AccountFor(context.Context, int64) (ports.Account, error) {
	return ports.Account{APIKey: "k", SecretKey: "s", Testnet: true}, m.err
}

type mockGateway struct{}

func (mockGateway) GetCandles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}
func (mockGateway) GetLastPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}
func (mockGateway) OpenLong(context.Context, string, decimal.Decimal) (*ports.OrderResult, error) {
	return &ports.OrderResult{}, nil
}
func (mockGateway) OpenShort(context.Context, string, decimal.Decimal) (*ports.OrderResult, error) {
	return &ports.OrderResult{}, nil
}
func (mockGateway) CloseLong(context.Context, string, decimal.Decimal) (*ports.OrderResult, error) {
	return &ports.OrderResult{}, nil
}
func (mockGateway) CloseShort(context.Context, string, decimal.Decimal) (*ports.OrderResult, error) {
	return &ports.OrderResult{}, nil
}

type mockHandler struct {
	mu    sync.Mutex
	tick  func(cfg *domain.StrategyConfig) ([]domain.Trade, error)
	calls []int64
}

func (m *mockHandler) Tick(_ context.Context, cfg *domain.StrategyConfig, _ *domain.StrategyState, _ ports.Gateway) ([]domain.Trade, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cfg.ID)
	m.mu.Unlock()
	if m.tick != nil {
		return m.tick(cfg)
	}
	return nil, nil
}

// --- Helpers ---

func strategyConfig(id int64) *domain.StrategyConfig {
	return &domain.StrategyConfig{ID: id, Type: "ma-trend", Symbol: "BTC-USDT"}
}

func newTestScheduler(t *testing.T, repo *mockStrategyRepo, logs *mockLogs, handler ports.StrategyHandler) *Scheduler {
	t.Helper()
	s, err := New(
		Config{Interval: time.Minute},
		noopLogger{},
		repo,
		logs,
		&mockAccounts{},
		func(ports.Account) (ports.Gateway, error) { return mockGateway{}, nil },
		map[string]ports.StrategyHandler{"ma-trend": handler},
	)
	require.NoError(t, err)
	return s
}

// --- Tests ---

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Interval: time.Minute}, nil, newMockStrategyRepo(), newMockLogs(),
		&mockAccounts{}, func(ports.Account) (ports.Gateway, error) { return mockGateway{}, nil },
		map[string]ports.StrategyHandler{"ma-trend": &mockHandler{}})
	assert.Error(t, err, "nil logger must be rejected")

	_, err = New(Config{}, noopLogger{}, newMockStrategyRepo(), newMockLogs(),
		&mockAccounts{}, func(ports.Account) (ports.Gateway, error) { return mockGateway{}, nil },
		map[string]ports.StrategyHandler{"ma-trend": &mockHandler{}})
	assert.Error(t, err, "zero interval must be rejected")

	_, err = New(Config{Interval: time.Minute}, noopLogger{}, newMockStrategyRepo(), newMockLogs(),
		&mockAccounts{}, func(ports.Account) (ports.Gateway, error) { return mockGateway{}, nil },
		nil)
	assert.Error(t, err, "empty handler map must be rejected")
}

func TestRunCycle_AdvancesEveryActiveStrategy(t *testing.T) {
	repo := newMockStrategyRepo(strategyConfig(1), strategyConfig(2), strategyConfig(3))
	handler := &mockHandler{}
	s := newTestScheduler(t, repo, newMockLogs(), handler)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, handler.calls)
	assert.Equal(t, 1, repo.savedResults[1])
	assert.Equal(t, 1, repo.savedResults[2])
	assert.Equal(t, 1, repo.savedResults[3])
}

func TestRunCycle_StoreFailureIsFatal(t *testing.T) {
	repo := newMockStrategyRepo()
	repo.activeErr = errors.New("database gone")
	s := newTestScheduler(t, repo, newMockLogs(), &mockHandler{})

	err := s.runCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database gone")
}

func TestRunCycle_TickErrorIsIsolated(t *testing.T) {
	repo := newMockStrategyRepo(strategyConfig(1), strategyConfig(2))
	logs := newMockLogs()
	handler := &mockHandler{tick: func(cfg *domain.StrategyConfig) ([]domain.Trade, error) {
		if cfg.ID == 1 {
			return nil, errors.New("exchange timeout")
		}
		return nil, nil
	}}
	s := newTestScheduler(t, repo, logs, handler)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Equal(t, []int64{1, 2}, handler.calls, "a failing strategy must not block the others")
	assert.Contains(t, logs.entries[1][0], "exchange timeout")
	assert.Empty(t, logs.entries[2])
}

func TestRunCycle_PartialTradesPersistedDespiteError(t *testing.T) {
	repo := newMockStrategyRepo(strategyConfig(1))
	executed := domain.Trade{
		StrategyID: 1,
		Symbol:     "BTC-USDT",
		Side:       domain.Long,
		Action:     domain.ActionOpen,
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		OrderSize:  decimal.NewFromInt(100),
		Reason:     domain.ReasonFilled,
	}
	handler := &mockHandler{tick: func(*domain.StrategyConfig) ([]domain.Trade, error) {
		return []domain.Trade{executed}, errors.New("candle fetch failed after the fill")
	}}
	s := newTestScheduler(t, repo, newMockLogs(), handler)

	require.NoError(t, s.runCycle(context.Background()))
	require.Len(t, repo.savedTrades[1], 1)
	assert.Equal(t, executed, repo.savedTrades[1][0])
}

func TestRunCycle_SaveFailureHaltsNewTicks(t *testing.T) {
	repo := newMockStrategyRepo(strategyConfig(1), strategyConfig(2))
	repo.saveErr = errors.New("database is locked")
	handler := &mockHandler{tick: func(cfg *domain.StrategyConfig) ([]domain.Trade, error) {
		return []domain.Trade{{
			StrategyID: cfg.ID,
			Symbol:     "BTC-USDT",
			Side:       domain.Long,
			Action:     domain.ActionOpen,
			Quantity:   decimal.NewFromInt(1),
			Price:      decimal.NewFromInt(100),
			OrderSize:  decimal.NewFromInt(100),
			Reason:     domain.ReasonFilled,
		}}, nil
	}}
	s := newTestScheduler(t, repo, newMockLogs(), handler)

	err := s.runCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, []int64{1}, handler.calls,
		"no further strategy may place orders on top of an unrecorded fill")
}

func TestRunCycle_PanicIsRecovered(t *testing.T) {
	repo := newMockStrategyRepo(strategyConfig(1), strategyConfig(2))
	logs := newMockLogs()
	handler := &mockHandler{tick: func(cfg *domain.StrategyConfig) ([]domain.Trade, error) {
		if cfg.ID == 1 {
			panic("nil dereference in handler")
		}
		return nil, nil
	}}
	s := newTestScheduler(t, repo, logs, handler)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Equal(t, []int64{1, 2}, handler.calls)
	require.NotEmpty(t, logs.entries[1])
	assert.Contains(t, logs.entries[1][0], "panicked")
}

func TestRunCycle_UnknownHandlerTypeSkipped(t *testing.T) {
	cfg := strategyConfig(1)
	cfg.Type = "grid"
	repo := newMockStrategyRepo(cfg)
	logs := newMockLogs()
	handler := &mockHandler{}
	s := newTestScheduler(t, repo, logs, handler)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Empty(t, handler.calls)
	assert.Zero(t, repo.savedResults[1])
	require.NotEmpty(t, logs.entries[1])
	assert.Contains(t, logs.entries[1][0], "no handler registered")
}

func TestRun_ReReadsActiveSetEachCycleAndStopsOnCancel(t *testing.T) {
	repo := newMockStrategyRepo(strategyConfig(1))
	handler := &mockHandler{}
	s, err := New(
		Config{Interval: 5 * time.Millisecond},
		noopLogger{},
		repo,
		newMockLogs(),
		&mockAccounts{},
		func(ports.Account) (ports.Gateway, error) { return mockGateway{}, nil },
		map[string]ports.StrategyHandler{"ma-trend": handler},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.GreaterOrEqual(t, repo.findActiveCalls, 2, "the active set is read fresh every cycle")
}
