package ta

import (
	"math"
	"testing"
	"time"

	"stockpulse/internal/domain"

	"github.com/stretchr/testify/assert"
)

func series(closes ...float64) []domain.PricePoint {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = domain.PricePoint{Date: start.AddDate(0, 0, i), Close: c, Volume: 1000}
	}
	return out
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestSMA(t *testing.T) {
	assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5, 6, 7}, 5), 1e-9)
	assert.Zero(t, SMA([]float64{1, 2}, 5))
}

func TestRSIOfMonotonicRiseIsHigh(t *testing.T) {
	assert.Greater(t, RSI(rising(30), 14), 99.0)
	assert.Zero(t, RSI(rising(10), 14))
}

func TestMACDPositiveInUptrend(t *testing.T) {
	macd, signal, hist := MACD(rising(60), 12, 26, 9)
	assert.Greater(t, macd, 0.0)
	assert.Greater(t, signal, 0.0)
	assert.InDelta(t, macd-signal, hist, 1e-9)

	m, s, h := MACD(rising(20), 12, 26, 9)
	assert.Zero(t, m+s+h)
}

func TestBollingerBracketsMean(t *testing.T) {
	upper, middle, lower := Bollinger(rising(40), 20, 2)
	assert.InDelta(t, 129.5, middle, 1e-9)
	assert.Greater(t, upper, middle)
	assert.Less(t, lower, middle)
	assert.InDelta(t, upper-middle, middle-lower, 1e-9)
}

func TestComputeUptrend(t *testing.T) {
	ind := Compute(series(rising(70)...))

	assert.Equal(t, "bullish", ind.Trend)
	assert.Greater(t, ind.MA5, ind.MA20)
	assert.Greater(t, ind.MA60, 0.0)
	assert.Greater(t, ind.BBPosition, 0.5)
	assert.InDelta(t, 1.0, ind.VolumeRatio, 1e-9)
}

func TestComputeShortSeries(t *testing.T) {
	ind := Compute(series(10, 11, 12))
	assert.Equal(t, "unknown", ind.Trend)
	assert.Zero(t, ind.MA5)
	assert.Zero(t, ind.VolumeRatio)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, "bearish", Trend(1, 2, 3))
	assert.Equal(t, "sideways", Trend(2, 1, 3))
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, Volatility([]float64{100, 100, 100}))
	v := Volatility([]float64{100, 101, 99, 102, 100})
	assert.Greater(t, v, 0.0)
	assert.False(t, math.IsNaN(v))
}
