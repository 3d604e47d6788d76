// Package ta computes technical indicators from daily bars.
package ta

import (
	"math"

	"stockpulse/internal/domain"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252

// Compute returns the latest indicator readings. Indicators that need more
// history than the series holds are left at zero.
func Compute(points []domain.PricePoint) domain.TechnicalIndicators {
	closes := make([]float64, len(points))
	volumes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
		volumes[i] = p.Volume
	}

	var ind domain.TechnicalIndicators
	ind.MA5 = SMA(closes, 5)
	ind.MA10 = SMA(closes, 10)
	ind.MA20 = SMA(closes, 20)
	ind.MA60 = SMA(closes, 60)
	ind.RSI = RSI(closes, 14)
	ind.MACD, ind.MACDSignal, ind.MACDHist = MACD(closes, 12, 26, 9)
	ind.BBUpper, ind.BBMiddle, ind.BBLower = Bollinger(closes, 20, 2)
	if width := ind.BBUpper - ind.BBLower; width > 0 && len(closes) > 0 {
		ind.BBPosition = (closes[len(closes)-1] - ind.BBLower) / width
	} else if ind.BBMiddle > 0 {
		ind.BBPosition = 0.5
	}
	ind.VolumeMA20 = SMA(volumes, 20)
	if ind.VolumeMA20 > 0 {
		ind.VolumeRatio = volumes[len(volumes)-1] / ind.VolumeMA20
	}
	ind.Trend = Trend(ind.MA5, ind.MA10, ind.MA20)
	return ind
}

// SMA is the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return last(talib.Sma(values, period))
}

// RSI is Wilder's relative strength index.
func RSI(closes []float64, period int) float64 {
	if period < 2 || len(closes) <= period {
		return 0
	}
	return last(talib.Rsi(closes, period))
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	if len(closes) < slow+signal {
		return 0, 0, 0
	}
	macd, sig, hist := talib.Macd(closes, fast, slow, signal)
	return last(macd), last(sig), last(hist)
}

// Bollinger returns the upper, middle and lower band around an SMA.
func Bollinger(closes []float64, period int, stdDevs float64) (float64, float64, float64) {
	if period <= 0 || len(closes) < period {
		return 0, 0, 0
	}
	upper, middle, lower := talib.BBands(closes, period, stdDevs, stdDevs, talib.SMA)
	return last(upper), last(middle), last(lower)
}

// Trend classifies moving-average alignment.
func Trend(ma5, ma10, ma20 float64) string {
	switch {
	case ma5 == 0 || ma10 == 0 || ma20 == 0:
		return "unknown"
	case ma5 > ma10 && ma10 > ma20:
		return "bullish"
	case ma5 < ma10 && ma10 < ma20:
		return "bearish"
	default:
		return "sideways"
	}
}

// MeanStd returns the population mean and standard deviation.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(values, nil)
}

// Returns are simple daily returns. Non-positive closes are skipped.
func Returns(closes []float64) []float64 {
	out := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// Volatility is the annualized standard deviation of daily returns.
func Volatility(closes []float64) float64 {
	r := Returns(closes)
	if len(r) < 2 {
		return 0
	}
	return stat.StdDev(r, nil) * math.Sqrt(tradingDaysPerYear)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
