package domain

import "time"

// PriceInfo summarizes the latest price action.
type PriceInfo struct {
	CurrentPrice  float64   `json:"current_price"`
	PreviousClose float64   `json:"previous_close"`
	ChangePct     float64   `json:"change_pct"`
	VolumeRatio   float64   `json:"volume_ratio"`
	Volatility    float64   `json:"volatility"`
	High52W       float64   `json:"high_52w"`
	Low52W        float64   `json:"low_52w"`
	AsOf          time.Time `json:"as_of"`
}

// TechnicalIndicators holds the latest indicator readings.
type TechnicalIndicators struct {
	MA5         float64 `json:"ma5"`
	MA10        float64 `json:"ma10"`
	MA20        float64 `json:"ma20"`
	MA60        float64 `json:"ma60"`
	RSI         float64 `json:"rsi"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_hist"`
	BBUpper     float64 `json:"bb_upper"`
	BBMiddle    float64 `json:"bb_middle"`
	BBLower     float64 `json:"bb_lower"`
	BBPosition  float64 `json:"bb_position"`
	VolumeMA20  float64 `json:"volume_ma20"`
	VolumeRatio float64 `json:"volume_ratio"`
	Trend       string  `json:"trend"`
}

// NewsSummary aggregates scored news.
type NewsSummary struct {
	Count         int        `json:"count"`
	Positive      int        `json:"positive"`
	Negative      int        `json:"negative"`
	Neutral       int        `json:"neutral"`
	MeanSentiment float64    `json:"mean_sentiment"`
	Confidence    float64    `json:"confidence"`
	Trend         string     `json:"trend"`
	Headlines     []NewsItem `json:"headlines,omitempty"`
}

// Scores are 0..100 component and composite scores.
type Scores struct {
	Technical      float64            `json:"technical"`
	Fundamental    *float64           `json:"fundamental,omitempty"`
	Sentiment      *float64           `json:"sentiment,omitempty"`
	Composite      float64            `json:"composite"`
	Weights        map[string]float64 `json:"weights"`
	Recommendation string             `json:"recommendation"`
}

// DataQuality records which provider answered each data kind.
type DataQuality struct {
	PriceProvider       string                        `json:"price_provider"`
	FundamentalProvider string                        `json:"fundamental_provider"`
	NewsProvider        string                        `json:"news_provider"`
	PricePoints         int                           `json:"price_points"`
	NewsItems           int                           `json:"news_items"`
	Degraded            []DataKind                    `json:"degraded,omitempty"`
	Failures            map[DataKind][]AttemptFailure `json:"failures,omitempty"`
}

// IsDegraded reports whether kind was marked unavailable.
func (q DataQuality) IsDegraded(kind DataKind) bool {
	for _, k := range q.Degraded {
		if k == kind {
			return true
		}
	}
	return false
}

// AnalysisReport is the assembled result of a DONE task.
type AnalysisReport struct {
	TaskID       string              `json:"task_id"`
	Instrument   Instrument          `json:"instrument"`
	MarketInfo   MarketInfo          `json:"market_info"`
	PriceInfo    PriceInfo           `json:"price_info"`
	Technical    TechnicalIndicators `json:"technical"`
	Fundamentals map[string]float64  `json:"fundamentals,omitempty"`
	News         NewsSummary         `json:"news"`
	Scores       Scores              `json:"scores"`
	DataQuality  DataQuality         `json:"data_quality"`
	AIAnalysis   string              `json:"ai_analysis"`
	AIModel      string              `json:"ai_model"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  time.Time           `json:"completed_at"`
}
