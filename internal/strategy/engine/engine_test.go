package engine

import (
	"context"
	"errors"
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

// mockSink fills every order at a fixed price and records what was asked.
type mockSink struct {
	fillPrice decimal.Decimal
	openErr   error
	closeErr  error

	openCalls  int
	closeCalls int
	lastAmount decimal.Decimal
}

func (m *mockSink) fill(symbol string, qty decimal.Decimal) *ports.OrderResult {
	return &ports.OrderResult{
		OrderID:    int64(m.openCalls + m.closeCalls),
		Symbol:     symbol,
		Price:      m.fillPrice,
		Quantity:   qty,
		ExecutedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *mockSink) OpenLong(_ context.Context, symbol string, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	m.openCalls++
	m.lastAmount = quoteAmount
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.fill(symbol, quoteAmount.Div(m.fillPrice)), nil
}

func (m *mockSink) OpenShort(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	return m.OpenLong(ctx, symbol, quoteAmount)
}

func (m *mockSink) CloseLong(_ context.Context, symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	m.closeCalls++
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	return m.fill(symbol, quantity), nil
}

func (m *mockSink) CloseShort(ctx context.Context, symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	return m.CloseLong(ctx, symbol, quantity)
}

// --- Helpers ---

func testConfig() *domain.StrategyConfig {
	return &domain.StrategyConfig{
		ID:                1,
		Symbol:            "BTC-USDT",
		Timeframe:         "1h",
		Indicator:         domain.SMA,
		IndicatorLength:   2,
		TrendThreshold:    1,
		OffsetPercent:     decimal.NewFromInt(1),
		TakeProfitPercent: decimal.NewFromInt(2),
		StopLossPercent:   decimal.NewFromInt(1),
		BaseOrderSize:     decimal.NewFromInt(100),
		Direction:         domain.BothSides,
	}
}

var baseTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func candle(seq int, high, low, close float64) domain.Candle {
	closeTime := baseTime.Add(time.Duration(seq) * time.Hour)
	return domain.Candle{
		OpenTime:  closeTime.Add(-time.Hour),
		CloseTime: closeTime,
		Open:      decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(10),
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(noopLogger{})
	require.NoError(t, err)
	return eng
}

// --- ProcessCandle ---

func TestProcessCandle_LongEntryAfterTrend(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := &domain.StrategyState{}
	sink := &mockSink{fillPrice: decimal.NewFromInt(108)}
	ctx := context.Background()

	candles := []domain.Candle{candle(1, 101, 99, 100)}

	// Indicator undefined with a single close, nothing happens.
	trades, err := eng.ProcessCandle(ctx, cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 0, state.LongCount)

	// MA = (100+110)/2 = 105, low 107 stays above both the MA and the
	// trigger line 106.05: counter advances, no entry.
	candles = append(candles, candle(2, 112, 107, 110))
	trades, err = eng.ProcessCandle(ctx, cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 1, state.LongCount)

	// MA = (110+108)/2 = 109, trigger = 109*1.01 = 110.09, low 104 touches it.
	candles = append(candles, candle(3, 112, 104, 108))
	trades, err = eng.ProcessCandle(ctx, cfg, state, candles, sink)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, domain.ActionOpen, trade.Action)
	assert.Equal(t, domain.Long, trade.Side)
	assert.Equal(t, domain.ReasonFilled, trade.Reason)
	assert.True(t, trade.Price.Equal(decimal.NewFromInt(108)))
	assert.True(t, trade.OrderSize.Equal(decimal.NewFromInt(100)))

	require.NotNil(t, state.OpenLong)
	assert.Equal(t, 0, state.LongCount)
	assert.True(t, state.OpenLong.TakeProfit.Equal(decimal.RequireFromString("110.16")), "got %s", state.OpenLong.TakeProfit)
	assert.True(t, state.OpenLong.StopLoss.Equal(decimal.RequireFromString("106.92")), "got %s", state.OpenLong.StopLoss)
}

func TestProcessCandle_CounterResetsWhenTrendBreaks(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	cfg.TrendThreshold = 5 // keep the entry branch out of reach
	state := &domain.StrategyState{LongCount: 3}
	sink := &mockSink{fillPrice: decimal.NewFromInt(100)}

	// MA = (100+100)/2 = 100, low 95 is on the wrong side.
	candles := []domain.Candle{candle(1, 101, 99, 100), candle(2, 101, 95, 100)}
	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 0, state.LongCount)
}

func TestProcessCandle_CounterHoldsAtThreshold(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	cfg.TrendThreshold = 2
	state := &domain.StrategyState{LongCount: 2}
	sink := &mockSink{fillPrice: decimal.NewFromInt(108)}

	// MA = (100+110)/2 = 105, trigger 106.05, low 107 stays above it: the
	// counter is armed and waiting, it must not climb past the threshold.
	candles := []domain.Candle{candle(1, 101, 99, 100), candle(2, 112, 107, 110)}
	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 2, state.LongCount)
}

func TestProcessCandle_StaleCandleIgnored(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	candles := []domain.Candle{candle(1, 101, 99, 100), candle(2, 112, 106, 110)}
	state := &domain.StrategyState{LastCandleTime: candles[1].CloseTime}
	sink := &mockSink{fillPrice: decimal.NewFromInt(100)}

	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 0, state.LongCount, "stale candle must not advance the counter")
}

func TestProcessCandle_SkipFlagConsumesOneCandle(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := &domain.StrategyState{LongCount: 2, SkipLongCandle: true}
	sink := &mockSink{fillPrice: decimal.NewFromInt(108)}
	ctx := context.Background()

	// This candle satisfies both counter continuation and the entry trigger,
	// but the cooldown flag suppresses the whole direction once.
	candles := []domain.Candle{candle(1, 112, 106, 110), candle(2, 112, 104, 108)}
	trades, err := eng.ProcessCandle(ctx, cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 2, state.LongCount)
	assert.False(t, state.SkipLongCandle)

	// The next candle trades normally again.
	candles = append(candles, candle(3, 112, 104, 108))
	trades, err = eng.ProcessCandle(ctx, cfg, state, candles, sink)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ActionOpen, trades[0].Action)
}

func TestProcessCandle_OpenPositionBlocksEverything(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := &domain.StrategyState{
		ShortCount: 5,
		OpenLong: &domain.OpenPosition{
			Direction:  domain.Long,
			EntryPrice: decimal.NewFromInt(100),
			Quantity:   decimal.NewFromInt(1),
			OrderSize:  decimal.NewFromInt(100),
			TakeProfit: decimal.NewFromInt(200),
			StopLoss:   decimal.NewFromInt(50),
		},
	}
	sink := &mockSink{fillPrice: decimal.NewFromInt(90)}

	// A candle that would otherwise enter short.
	candles := []domain.Candle{candle(1, 92, 88, 90), candle(2, 94, 86, 88)}
	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 0, sink.openCalls)
	assert.Equal(t, 5, state.ShortCount, "counters freeze while a position is open")
}

func TestProcessCandle_DirectionFilter(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	cfg.Direction = domain.LongOnly
	state := &domain.StrategyState{ShortCount: 1}
	sink := &mockSink{fillPrice: decimal.NewFromInt(88)}

	// Candle below the MA that would advance and trigger a short.
	candles := []domain.Candle{candle(1, 92, 88, 90), candle(2, 88.5, 86, 88)}
	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, 1, state.ShortCount)
}

func TestProcessCandle_OpenFailureKeepsStateConsistent(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := &domain.StrategyState{LongCount: 1}
	sink := &mockSink{fillPrice: decimal.NewFromInt(108), openErr: errors.New("venue rejected")}

	candles := []domain.Candle{candle(1, 112, 106, 110), candle(2, 112, 104, 108)}
	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.Error(t, err)
	assert.Empty(t, trades)
	assert.Nil(t, state.OpenLong)
}

// --- CheckExits ---

func openLongState(entry, tp, sl int64) *domain.StrategyState {
	return &domain.StrategyState{
		OpenLong: &domain.OpenPosition{
			Direction:  domain.Long,
			EntryPrice: decimal.NewFromInt(entry),
			Quantity:   decimal.NewFromInt(1),
			OrderSize:  decimal.NewFromInt(100),
			TakeProfit: decimal.NewFromInt(tp),
			StopLoss:   decimal.NewFromInt(sl),
		},
	}
}

func TestCheckExits_TakeProfit(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := openLongState(100, 102, 99)
	sink := &mockSink{fillPrice: decimal.NewFromInt(103)}

	trades, err := eng.CheckExits(context.Background(), cfg, state, QuoteFromPrice(decimal.NewFromInt(103)), sink)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, domain.ActionClose, trade.Action)
	assert.Equal(t, domain.ReasonTakeProfit, trade.Reason)
	require.NotNil(t, trade.Pnl)
	assert.True(t, trade.Pnl.Equal(decimal.NewFromInt(3)), "3%% of a $100 order, got %s", trade.Pnl)

	assert.Nil(t, state.OpenLong)
	assert.True(t, state.SkipLongCandle)
	assert.Equal(t, 0, state.LongCount)
}

func TestCheckExits_StopLossShort(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	cfg.Martingale = true
	cfg.MartingaleCoefficient = decimal.NewFromInt(2)
	state := &domain.StrategyState{
		OpenShort: &domain.OpenPosition{
			Direction:  domain.Short,
			EntryPrice: decimal.NewFromInt(100),
			Quantity:   decimal.NewFromInt(1),
			OrderSize:  decimal.NewFromInt(100),
			TakeProfit: decimal.NewFromInt(98),
			StopLoss:   decimal.NewFromInt(101),
		},
	}
	sink := &mockSink{fillPrice: decimal.NewFromInt(101)}

	trades, err := eng.CheckExits(context.Background(), cfg, state, QuoteFromPrice(decimal.NewFromInt(101)), sink)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonStopLoss, trades[0].Reason)

	assert.Nil(t, state.OpenShort)
	assert.True(t, state.SkipShortCandle)
	assert.Equal(t, 1, state.ConsecutiveLosses, "loss must feed the sizing memory")
}

func TestCheckExits_RangeSpanningBothLevelsPrefersStopLoss(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := openLongState(100, 102, 99)
	sink := &mockSink{fillPrice: decimal.NewFromInt(99)}

	quote := Quote{
		Last: decimal.NewFromInt(100),
		High: decimal.NewFromInt(103),
		Low:  decimal.NewFromInt(98),
	}
	trades, err := eng.CheckExits(context.Background(), cfg, state, quote, sink)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ReasonStopLoss, trades[0].Reason)
}

func TestCheckExits_NoLevelTouched(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := openLongState(100, 102, 99)
	sink := &mockSink{fillPrice: decimal.NewFromInt(100)}

	trades, err := eng.CheckExits(context.Background(), cfg, state, QuoteFromPrice(decimal.NewFromInt(100)), sink)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.NotNil(t, state.OpenLong)
	assert.Equal(t, 0, sink.closeCalls)
}

func TestCheckExits_CloseFailureLeavesPositionOpen(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	state := openLongState(100, 102, 99)
	sink := &mockSink{fillPrice: decimal.NewFromInt(103), closeErr: errors.New("venue down")}

	trades, err := eng.CheckExits(context.Background(), cfg, state, QuoteFromPrice(decimal.NewFromInt(103)), sink)
	require.Error(t, err)
	assert.Empty(t, trades)
	assert.NotNil(t, state.OpenLong, "failed close must leave the position for the next tick")
	assert.False(t, state.SkipLongCandle)
	assert.Equal(t, 0, state.ConsecutiveLosses)
}

func TestMartingaleSizingAcrossTrades(t *testing.T) {
	eng := newEngine(t)
	cfg := testConfig()
	cfg.Martingale = true
	cfg.MartingaleCoefficient = decimal.NewFromInt(2)
	state := &domain.StrategyState{ConsecutiveLosses: 2, LongCount: 1}
	sink := &mockSink{fillPrice: decimal.NewFromInt(108)}

	candles := []domain.Candle{candle(1, 112, 106, 110), candle(2, 112, 104, 108)}
	trades, err := eng.ProcessCandle(context.Background(), cfg, state, candles, sink)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, sink.lastAmount.Equal(decimal.NewFromInt(400)), "100 * 2^2, got %s", sink.lastAmount)
}
