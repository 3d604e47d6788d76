package provider

import (
	"context"
	"fmt"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"
	"stockpulse/internal/normalizer"

	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// yahooBar is the part of a Yahoo history bar we use.
type yahooBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

type yahooAPI interface {
	History(ctx context.Context, symbol, period string) ([]yahooBar, error)
	Info(ctx context.Context, symbol string) (map[string]float64, error)
}

// Yahoo serves daily history and fundamentals for every market through
// Yahoo Finance.
type Yahoo struct {
	api     yahooAPI
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewYahoo(tracer trace.Tracer) *Yahoo {
	return &Yahoo{
		api:     yfinanceAPI{},
		tracer:  tracer,
		limiter: NewRateLimiter(4, 500*time.Millisecond),
	}
}

func (p *Yahoo) Name() string { return "yahoo" }

func (p *Yahoo) FetchPrices(ctx context.Context, inst domain.Instrument, r domain.DateRange) ([]fetcher.RawPriceRow, error) {
	ctx, span := p.tracer.Start(ctx, "yahoo.fetch-prices")
	defer span.End()
	symbol := normalizer.YahooSymbol(inst)
	span.SetAttributes(attribute.String("symbol", symbol))

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	bars, err := p.api.History(ctx, symbol, historyPeriod(r))
	if err != nil {
		return nil, fmt.Errorf("yahoo history for %s: %w", symbol, err)
	}

	rows := make([]fetcher.RawPriceRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, fetcher.RawPriceRow{
			Date:   b.Date.UTC().Format(time.RFC3339),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return rows, nil
}

func (p *Yahoo) FetchFundamentals(ctx context.Context, inst domain.Instrument) (fetcher.RawIndicators, error) {
	ctx, span := p.tracer.Start(ctx, "yahoo.fetch-fundamentals")
	defer span.End()
	symbol := normalizer.YahooSymbol(inst)
	span.SetAttributes(attribute.String("symbol", symbol))

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	info, err := p.api.Info(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("yahoo info for %s: %w", symbol, err)
	}

	out := make(fetcher.RawIndicators, len(info))
	for k, v := range info {
		if v != 0 {
			out[k] = v
		}
	}
	return out, nil
}

// historyPeriod picks the smallest Yahoo period covering the range. The
// fetcher clips the result to the exact dates.
func historyPeriod(r domain.DateRange) string {
	days := int(time.Since(r.From).Hours() / 24)
	switch {
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	case days <= 730:
		return "2y"
	default:
		return "5y"
	}
}

// yfinanceAPI adapts go-yfinance, which has no context support; the chain
// timeout abandons slow calls.
type yfinanceAPI struct{}

func (yfinanceAPI) History(_ context.Context, symbol, period string) ([]yahooBar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]yahooBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, yahooBar{
			Date:   b.Date,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return out, nil
}

func (yfinanceAPI) Info(_ context.Context, symbol string) (map[string]float64, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("create ticker: %w", err)
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		"trailingPE":       info.TrailingPE,
		"forwardPE":        info.ForwardPE,
		"priceToBook":      info.PriceToBook,
		"returnOnEquity":   info.ReturnOnEquity,
		"revenueGrowth":    info.RevenueGrowth,
		"earningsGrowth":   info.EarningsGrowth,
		"profitMargins":    info.ProfitMargins,
		"operatingMargins": info.OperatingMargins,
		"debtToEquity":     info.DebtToEquity,
		"currentRatio":     info.CurrentRatio,
		"marketCap":        float64(info.MarketCap),
		"dividendYield":    info.DividendYield,
	}, nil
}
