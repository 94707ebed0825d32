package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents a single OHLCV bar for a symbol/timeframe.
type Candle struct {
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// IsClosedAt reports whether the candle's interval has fully elapsed at t.
func (c Candle) IsClosedAt(t time.Time) bool {
	return !c.CloseTime.After(t)
}

// TimeframeDuration parses a timeframe string such as "1m", "15m", "4h" or
// "1d" into its interval length.
func TimeframeDuration(timeframe string) (time.Duration, error) {
	if len(timeframe) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	unit := timeframe[len(timeframe)-1]
	n, err := strconv.Atoi(timeframe[:len(timeframe)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q: unknown unit %q", timeframe, string(unit))
	}
}

// ClosePrices extracts the close-price series from a candle slice.
func ClosePrices(candles []Candle) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
