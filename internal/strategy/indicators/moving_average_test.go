package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/domain"
)

func closesFromFloats(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestSMASeries(t *testing.T) {
	closes := closesFromFloats(100, 102, 101, 103, 104)

	tests := []struct {
		name     string
		length   int
		expected []string // aligned, "" means zero/undefined
	}{
		{
			// Final window checked below the table: its quotient is not
			// exactly representable.
			name:     "window of three",
			length:   3,
			expected: []string{"", "", "101", "102"},
		},
		{
			name:     "window equal to series",
			length:   5,
			expected: []string{"", "", "", "", "102"},
		},
		{
			name:     "window larger than series",
			length:   6,
			expected: []string{"", "", "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := SMASeries(closes, tt.length)
			require.Len(t, series, len(closes))
			for i, exp := range tt.expected {
				if exp == "" {
					assert.True(t, series[i].IsZero(), "index %d should be undefined", i)
					continue
				}
				expected, err := decimal.NewFromString(exp)
				require.NoError(t, err)
				assert.True(t, series[i].Equal(expected), "index %d: expected %s, got %s", i, expected, series[i])
			}
		})
	}

	// Last window (101+103+104)/3 checked separately: the quotient is not
	// exactly representable, compare against the same decimal division.
	series := SMASeries(closes, 3)
	expectedLast := decimal.NewFromInt(101 + 103 + 104).Div(decimal.NewFromInt(3))
	assert.True(t, series[4].Equal(expectedLast))
}

func TestEMASeries(t *testing.T) {
	closes := closesFromFloats(100, 102, 101, 103, 104)
	series := EMASeries(closes, 3)
	require.Len(t, series, 5)

	// Seed at index 2 is the SMA of the first three closes.
	assert.True(t, series[0].IsZero())
	assert.True(t, series[1].IsZero())
	assert.True(t, series[2].Equal(decimal.NewFromInt(101)))

	// ema[3] = (103 - 101) * 0.5 + 101 = 102
	assert.True(t, series[3].Equal(decimal.NewFromInt(102)))
	// ema[4] = (104 - 102) * 0.5 + 102 = 103
	assert.True(t, series[4].Equal(decimal.NewFromInt(103)))
}

func TestEMASeries_InsufficientData(t *testing.T) {
	series := EMASeries(closesFromFloats(100, 101), 3)
	require.Len(t, series, 2)
	for _, v := range series {
		assert.True(t, v.IsZero())
	}
}

func TestCurrentValue(t *testing.T) {
	closes := closesFromFloats(100, 102, 101, 103, 104)

	value, ok := CurrentValue(closes, domain.EMA, 3)
	require.True(t, ok)
	assert.True(t, value.Equal(decimal.NewFromInt(103)))

	value, ok = CurrentValue(closes, domain.SMA, 5)
	require.True(t, ok)
	assert.True(t, value.Equal(decimal.NewFromInt(102)))

	_, ok = CurrentValue(closes[:2], domain.SMA, 3)
	assert.False(t, ok)

	_, ok = CurrentValue(nil, domain.EMA, 3)
	assert.False(t, ok)
}

func TestDeterminism(t *testing.T) {
	closes := closesFromFloats(2310.55, 2311.7, 2308.2, 2315.45, 2317.9, 2312.35)
	first := EMASeries(closes, 4)
	second := EMASeries(closes, 4)
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "index %d diverged", i)
	}
}
