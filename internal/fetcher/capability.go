package fetcher

import (
	"context"

	"stockpulse/internal/domain"
)

// RawPriceRow is one daily bar as a provider reports it. Date may use any
// of the layouts understood by parseDate.
type RawPriceRow struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// RawIndicators maps provider-specific indicator names to values, which
// may be numbers or numeric strings such as "12.5%".
type RawIndicators map[string]any

// RawNewsItem is one news entry as a provider reports it.
type RawNewsItem struct {
	Title     string
	Summary   string
	URL       string
	Source    string
	Published string
}

// PriceCapability returns daily bars for an instrument.
type PriceCapability interface {
	Name() string
	FetchPrices(ctx context.Context, inst domain.Instrument, r domain.DateRange) ([]RawPriceRow, error)
}

// FundamentalCapability returns the latest fundamental indicators.
type FundamentalCapability interface {
	Name() string
	FetchFundamentals(ctx context.Context, inst domain.Instrument) (RawIndicators, error)
}

// NewsCapability returns recent news for an instrument.
type NewsCapability interface {
	Name() string
	FetchNews(ctx context.Context, inst domain.Instrument, lookbackDays int) ([]RawNewsItem, error)
}

// Scorer assigns a sentiment in [-1, 1] to a news item.
type Scorer interface {
	Score(ctx context.Context, item domain.NewsItem) (float64, error)
}

// BatchScorer scores many items in one call. The result is aligned with
// items.
type BatchScorer interface {
	ScoreBatch(ctx context.Context, items []domain.NewsItem) ([]float64, error)
}
