// Package scoring turns fetched records into 0..100 component scores and a
// weighted composite.
package scoring

import (
	"math"
	"sort"

	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"
	"stockpulse/internal/sentiment"
	"stockpulse/internal/ta"
)

const (
	componentTechnical   = "technical"
	componentFundamental = "fundamental"
	componentSentiment   = "sentiment"

	minTechnicalPoints = 20
	tradingYear        = 252
)

// Weights are the relative shares of each component in the composite.
type Weights struct {
	Technical   float64 `yaml:"technical"`
	Fundamental float64 `yaml:"fundamental"`
	Sentiment   float64 `yaml:"sentiment"`
}

// DefaultWeights favour price action and fundamentals equally.
var DefaultWeights = Weights{Technical: 0.4, Fundamental: 0.4, Sentiment: 0.2}

// Input is everything gathered for one instrument. Fundamentals and News
// may be nil or marked unavailable.
type Input struct {
	Prices       *domain.PriceSeries
	Fundamentals *domain.Fundamentals
	News         *domain.NewsRecord
}

// Result is the quantitative part of an analysis report.
type Result struct {
	PriceInfo domain.PriceInfo
	Technical domain.TechnicalIndicators
	News      domain.NewsSummary
	Scores    domain.Scores
}

// Engine scores inputs with fixed weights.
type Engine struct {
	weights Weights
}

func NewEngine(w Weights) *Engine {
	if w.Technical+w.Fundamental+w.Sentiment <= 0 {
		w = DefaultWeights
	}
	return &Engine{weights: w}
}

// Score computes every component that has data. Missing components are
// excluded from the composite rather than defaulted.
func (e *Engine) Score(in Input) Result {
	var res Result
	var points []domain.PricePoint
	if in.Prices != nil {
		points = in.Prices.Points
	}
	res.PriceInfo = PriceInfo(points)
	res.Technical = ta.Compute(points)

	components := map[string]*float64{}
	if len(points) >= minTechnicalPoints {
		v := TechnicalScore(res.Technical, res.PriceInfo.CurrentPrice)
		components[componentTechnical] = &v
		res.Scores.Technical = v
	}
	if in.Fundamentals != nil && !in.Fundamentals.Unavailable && len(in.Fundamentals.Indicators) > 0 {
		v := FundamentalScore(in.Fundamentals.Indicators)
		components[componentFundamental] = &v
		res.Scores.Fundamental = &v
	}
	if in.News != nil && !in.News.Unavailable {
		res.News = Summarize(in.News.Items, 5)
		if res.News.Count > 0 {
			v := SentimentScore(res.News.MeanSentiment)
			components[componentSentiment] = &v
			res.Scores.Sentiment = &v
		}
	}

	res.Scores.Composite, res.Scores.Weights = e.composite(components)
	res.Scores.Recommendation = Recommendation(res.Scores.Composite, len(res.Scores.Weights) > 0)
	return res
}

func (e *Engine) composite(components map[string]*float64) (float64, map[string]float64) {
	weights := map[string]float64{
		componentTechnical:   e.weights.Technical,
		componentFundamental: e.weights.Fundamental,
		componentSentiment:   e.weights.Sentiment,
	}

	activeWeight := 0.0
	for name, v := range components {
		if v != nil {
			activeWeight += weights[name]
		}
	}
	if activeWeight <= 0 {
		return 0, map[string]float64{}
	}

	normalized := make(map[string]float64, len(components))
	score := 0.0
	for name, v := range components {
		w := weights[name] / activeWeight
		normalized[name] = w
		score += w * clamp(*v, 0, 100)
	}
	return round2(clamp(score, 0, 100)), normalized
}

// TechnicalScore starts neutral at 50 and moves with trend, momentum and
// band position.
func TechnicalScore(ind domain.TechnicalIndicators, price float64) float64 {
	score := 0.5
	if ind.MA5 > ind.MA20 {
		score += 0.1
	} else {
		score -= 0.1
	}
	if price > ind.MA20 {
		score += 0.05
	} else {
		score -= 0.05
	}
	switch {
	case ind.RSI > 70:
		score -= 0.1
	case ind.RSI > 0 && ind.RSI < 30:
		score += 0.1
	}
	if ind.MACD > ind.MACDSignal {
		score += 0.05
	} else {
		score -= 0.05
	}
	switch {
	case ind.BBPosition > 0.8:
		score -= 0.05
	case ind.BBPosition < 0.2:
		score += 0.05
	}
	switch {
	case ind.VolumeRatio > 2:
		score += 0.05
	case ind.VolumeRatio > 0 && ind.VolumeRatio < 0.5:
		score -= 0.05
	}
	return round2(clamp(score, 0, 1) * 100)
}

// FundamentalScore rates valuation, growth and profitability bands.
func FundamentalScore(ind map[string]float64) float64 {
	score := 0.5
	if pe, ok := ind[fetcher.IndicatorPE]; ok && pe > 0 {
		switch {
		case pe < 15:
			score += 0.1
		case pe > 30:
			score -= 0.1
		}
	}
	if pb, ok := ind[fetcher.IndicatorPB]; ok && pb > 0 {
		switch {
		case pb < 1.5:
			score += 0.05
		case pb > 8:
			score -= 0.05
		}
	}
	for _, key := range []string{fetcher.IndicatorRevenueGrowth, fetcher.IndicatorProfitGrowth} {
		g, ok := ind[key]
		if !ok {
			continue
		}
		switch {
		case g > 20:
			score += 0.05
		case g < -10:
			score -= 0.05
		}
	}
	if roe, ok := ind[fetcher.IndicatorROE]; ok {
		switch {
		case roe > 15:
			score += 0.1
		case roe < 5:
			score -= 0.05
		}
	}
	return round2(clamp(score, 0, 1) * 100)
}

// SentimentScore maps a mean item score in [-1, 1] onto 0..100.
func SentimentScore(mean float64) float64 {
	return round2(clamp((mean+1)/2, 0, 1) * 100)
}

// Summarize aggregates scored news. items must be newest first; the first
// headlines are kept for display.
func Summarize(items []domain.NewsItem, headlines int) domain.NewsSummary {
	s := domain.NewsSummary{Count: len(items), Trend: sentiment.LabelNeutral}
	if len(items) == 0 {
		return s
	}
	total := 0.0
	for _, item := range items {
		total += item.Sentiment
		switch sentiment.Label(item.Sentiment) {
		case sentiment.LabelPositive:
			s.Positive++
		case sentiment.LabelNegative:
			s.Negative++
		default:
			s.Neutral++
		}
	}
	s.MeanSentiment = round4(total / float64(len(items)))
	s.Trend = sentiment.Label(s.MeanSentiment)
	s.Confidence = round4(math.Min(math.Abs(s.MeanSentiment)+0.1, 1))
	if headlines > len(items) {
		headlines = len(items)
	}
	s.Headlines = append([]domain.NewsItem(nil), items[:headlines]...)
	return s
}

// PriceInfo summarizes the latest bar against recent history.
func PriceInfo(points []domain.PricePoint) domain.PriceInfo {
	var info domain.PriceInfo
	if len(points) == 0 {
		return info
	}
	last := points[len(points)-1]
	info.CurrentPrice = last.Close
	info.AsOf = last.Date
	if len(points) > 1 {
		info.PreviousClose = points[len(points)-2].Close
		if info.PreviousClose > 0 {
			info.ChangePct = round2((info.CurrentPrice/info.PreviousClose - 1) * 100)
		}
	}

	window := points
	if len(window) > tradingYear {
		window = window[len(window)-tradingYear:]
	}
	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	info.Low52W = math.Inf(1)
	for i, p := range window {
		closes[i] = p.Close
		volumes[i] = p.Volume
		high, low := p.High, p.Low
		if high <= 0 {
			high = p.Close
		}
		if low <= 0 {
			low = p.Close
		}
		info.High52W = math.Max(info.High52W, high)
		info.Low52W = math.Min(info.Low52W, low)
	}
	if vma := ta.SMA(volumes, 20); vma > 0 {
		info.VolumeRatio = round2(last.Volume / vma)
	}
	info.Volatility = round4(ta.Volatility(closes))
	return info
}

// Recommendation labels a composite score.
func Recommendation(composite float64, scored bool) string {
	switch {
	case !scored:
		return "insufficient data"
	case composite >= 75:
		return "strong buy"
	case composite >= 60:
		return "buy"
	case composite >= 45:
		return "hold"
	case composite >= 30:
		return "reduce"
	default:
		return "sell"
	}
}

// ComponentNames lists the weighted components present in w in stable order.
func ComponentNames(w map[string]float64) []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
