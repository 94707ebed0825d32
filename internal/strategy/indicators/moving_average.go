package indicators

import (
	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
)

// Moving averages over close-price series. All math runs on fixed-precision
// decimals so live and replay runs produce identical values on any platform.
// Output slices are aligned with the input; indices before the window fills
// hold zero.

// SMASeries computes the simple rolling mean over the last length closes.
func SMASeries(closes []decimal.Decimal, length int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(closes))
	if length <= 0 || len(closes) < length {
		return out
	}
	window := decimal.Zero
	for i, c := range closes {
		window = window.Add(c)
		if i >= length {
			window = window.Sub(closes[i-length])
		}
		if i >= length-1 {
			out[i] = window.Div(decimal.NewFromInt(int64(length)))
		}
	}
	return out
}

// EMASeries computes the exponential moving average. The seed at index
// length-1 is the SMA of the first length closes; afterwards
// ema[i] = (close[i] - ema[i-1]) * 2/(length+1) + ema[i-1].
func EMASeries(closes []decimal.Decimal, length int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(closes))
	if length <= 0 || len(closes) < length {
		return out
	}
	seed := decimal.Zero
	for i := 0; i < length; i++ {
		seed = seed.Add(closes[i])
	}
	ema := seed.Div(decimal.NewFromInt(int64(length)))
	out[length-1] = ema

	multiplier := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(length + 1)))
	for i := length; i < len(closes); i++ {
		ema = closes[i].Sub(ema).Mul(multiplier).Add(ema)
		out[i] = ema
	}
	return out
}

// Series computes the full moving-average series for the given kind.
func Series(closes []decimal.Decimal, kind domain.IndicatorKind, length int) []decimal.Decimal {
	if kind == domain.EMA {
		return EMASeries(closes, length)
	}
	return SMASeries(closes, length)
}

// CurrentValue returns the latest moving-average value. ok is false when
// fewer than length closes are available and the value is undefined.
func CurrentValue(closes []decimal.Decimal, kind domain.IndicatorKind, length int) (value decimal.Decimal, ok bool) {
	if length <= 0 || len(closes) < length {
		return decimal.Zero, false
	}
	series := Series(closes, kind, length)
	return series[len(series)-1], true
}
