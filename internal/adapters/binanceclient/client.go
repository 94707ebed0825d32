// Package binanceclient implements the ports.Gateway interface for Binance
// USDT-M futures using the go-binance library.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	symbolInfoTTL = time.Hour
)

// Config holds configuration specific to the Binance gateway adapter.
type Config struct {
	Account ports.Account
	Logger  ports.Logger
}

// symbolInfo caches the exchange's lot-size constraints for one symbol.
type symbolInfo struct {
	stepSize    decimal.Decimal
	minQuantity decimal.Decimal
}

// Client implements ports.Gateway against Binance USDT-M futures.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	mu          sync.Mutex
	symbols     map[string]symbolInfo
	refreshedAt time.Time
}

// New creates a Binance gateway bound to one exchange account.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance gateway")
	}
	if cfg.Account.APIKey == "" || cfg.Account.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty, only public endpoints will work")
	}

	client := futures.NewClient(cfg.Account.APIKey, cfg.Account.SecretKey)
	if cfg.Account.Testnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}

	if cfg.Account.ProxyURL != "" {
		proxy, err := url.Parse(cfg.Account.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Account.ProxyURL, err)
		}
		client.HTTPClient = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
		}
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		symbols:       make(map[string]symbolInfo),
	}, nil
}

// venueSymbol translates the canonical "BASE-QUOTE" spelling into Binance's
// concatenated form. Translation happens only at this boundary; the rest of
// the system sees the canonical spelling.
func venueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2010, -2022, -4003:
			mappedErr = ports.ErrOrderFailed
		case -2019, -3005, -3041:
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetCandles retrieves the most recent candles for a symbol/timeframe,
// oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	op := "GetCandles"
	klines, err := c.futuresClient.NewKlinesService().
		Symbol(venueSymbol(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := translateKline(k)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("translating kline: %w", err), op)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetLastPrice retrieves the last traded price for a symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetLastPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().
		Symbol(venueSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 || tickers[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, symbol)
	}

	price, err := decimal.NewFromString(tickers[0].LastPrice)
	if err != nil || price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s: unusable price %q", ports.ErrPriceUnavailable, symbol, tickers[0].LastPrice)
	}
	return price, nil
}

// OpenLong opens a long market position spending quoteAmount.
func (c *Client) OpenLong(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	return c.openPosition(ctx, symbol, futures.SideTypeBuy, quoteAmount)
}

// OpenShort opens a short market position spending quoteAmount.
func (c *Client) OpenShort(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	return c.openPosition(ctx, symbol, futures.SideTypeSell, quoteAmount)
}

// CloseLong closes a long position with the stored quantity.
func (c *Client) CloseLong(ctx context.Context, symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	return c.closePosition(ctx, symbol, futures.SideTypeSell, quantity)
}

// CloseShort closes a short position with the stored quantity.
func (c *Client) CloseShort(ctx context.Context, symbol string, quantity decimal.Decimal) (*ports.OrderResult, error) {
	return c.closePosition(ctx, symbol, futures.SideTypeBuy, quantity)
}

func (c *Client) openPosition(ctx context.Context, symbol string, side futures.SideType, quoteAmount decimal.Decimal) (*ports.OrderResult, error) {
	op := "OpenPosition"

	price, err := c.GetLastPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	info, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return nil, err
	}

	quantity, err := sizedQuantity(quoteAmount, price, info)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	c.logger.Info(ctx, op+": placing market order", map[string]interface{}{
		"symbol":      symbol,
		"side":        side,
		"quoteAmount": quoteAmount,
		"quantity":    quantity,
		"price":       price,
	})
	return c.placeMarketOrder(ctx, symbol, side, quantity, false)
}

func (c *Client) closePosition(ctx context.Context, symbol string, side futures.SideType, quantity decimal.Decimal) (*ports.OrderResult, error) {
	c.logger.Info(ctx, "ClosePosition: placing market order", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
	})
	return c.placeMarketOrder(ctx, symbol, side, quantity, true)
}

func (c *Client) placeMarketOrder(ctx context.Context, symbol string, side futures.SideType, quantity decimal.Decimal, reduceOnly bool) (*ports.OrderResult, error) {
	op := "PlaceMarketOrder"

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(uuid.NewString()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		if errors.Is(mapped, ports.ErrOrderFailed) {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: %v", ports.ErrOrderFailed, mapped)
	}

	result, err := translateOrder(symbol, order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"orderID":  result.OrderID,
		"price":    result.Price,
		"quantity": result.Quantity,
	})
	return result, nil
}

// symbolFilters returns the cached lot-size constraints for a symbol,
// refreshing the exchange metadata when the cache is stale.
func (c *Client) symbolFilters(ctx context.Context, symbol string) (symbolInfo, error) {
	op := "SymbolFilters"
	venue := venueSymbol(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if info, ok := c.symbols[venue]; ok && time.Since(c.refreshedAt) < symbolInfoTTL {
		return info, nil
	}

	exchangeInfo, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return symbolInfo{}, c.handleError(ctx, err, op)
	}

	refreshed := make(map[string]symbolInfo, len(exchangeInfo.Symbols))
	for _, s := range exchangeInfo.Symbols {
		lot := s.LotSizeFilter()
		if lot == nil {
			continue
		}
		step, err := decimal.NewFromString(lot.StepSize)
		if err != nil || step.IsZero() {
			continue
		}
		minQty, err := decimal.NewFromString(lot.MinQuantity)
		if err != nil {
			continue
		}
		refreshed[s.Symbol] = symbolInfo{stepSize: step, minQuantity: minQty}
	}
	c.symbols = refreshed
	c.refreshedAt = time.Now()

	info, ok := c.symbols[venue]
	if !ok {
		return symbolInfo{}, fmt.Errorf("%w: symbol %s not listed on exchange", ports.ErrInvalidRequest, symbol)
	}
	return info, nil
}

// orderQuantity converts a quote-currency amount into a base-asset quantity
// aligned down to the venue's lot step.
func orderQuantity(quoteAmount, price, step decimal.Decimal) decimal.Decimal {
	return quoteAmount.Div(price).Div(step).Floor().Mul(step)
}

// sizedQuantity computes the lot-aligned order quantity and rejects it before
// any order is placed when it falls under the venue's minimum.
func sizedQuantity(quoteAmount, price decimal.Decimal, info symbolInfo) (decimal.Decimal, error) {
	quantity := orderQuantity(quoteAmount, price, info.stepSize)
	if quantity.LessThan(info.minQuantity) {
		return decimal.Zero, fmt.Errorf("%w: qty %s < min %s at price %s",
			ports.ErrBelowMinimumQuantity, quantity, info.minQuantity, price)
	}
	return quantity, nil
}

// --- Translation helpers ---

func translateOrder(symbol string, order *futures.CreateOrderResponse) (*ports.OrderResult, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	avgPrice, err := parseDecimal(order.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("parsing avg price %q: %w", order.AvgPrice, err)
	}
	executedQty, err := parseDecimal(order.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity %q: %w", order.ExecutedQuantity, err)
	}
	if executedQty.IsZero() {
		if executedQty, err = parseDecimal(order.OrigQuantity); err != nil {
			return nil, fmt.Errorf("parsing original quantity %q: %w", order.OrigQuantity, err)
		}
	}
	return &ports.OrderResult{
		OrderID:    order.OrderID,
		Symbol:     symbol,
		Price:      avgPrice,
		Quantity:   executedQty,
		ExecutedAt: time.UnixMilli(order.UpdateTime),
	}, nil
}

func translateKline(k *futures.Kline) (domain.Candle, error) {
	if k == nil {
		return domain.Candle{}, errors.New("received nil kline")
	}
	open, err := parseDecimal(k.Open)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing open %q: %w", k.Open, err)
	}
	high, err := parseDecimal(k.High)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing high %q: %w", k.High, err)
	}
	low, err := parseDecimal(k.Low)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing low %q: %w", k.Low, err)
	}
	cls, err := parseDecimal(k.Close)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing close %q: %w", k.Close, err)
	}
	vol, err := parseDecimal(k.Volume)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing volume %q: %w", k.Volume, err)
	}
	return domain.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// NewGatewayFactory returns a ports.GatewayFactory that binds a gateway to
// each exchange account the scheduler hands it.
func NewGatewayFactory(logger ports.Logger) ports.GatewayFactory {
	return func(account ports.Account) (ports.Gateway, error) {
		return New(Config{Account: account, Logger: logger})
	}
}
