package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	eastmoneyHistoryURL = "https://push2his.eastmoney.com"
	eastmoneyQuoteURL   = "https://push2.eastmoney.com"
)

// eastmoneyQuoteFields are requested from the quote endpoint and handed to
// the fetcher unchanged: f162 PE(TTM)x100, f167 PBx100, f173 ROE %, f116
// total market cap.
var eastmoneyQuoteFields = []string{"f57", "f58", "f116", "f162", "f167", "f173"}

// Eastmoney serves daily klines and headline valuation figures for A-share,
// HK and US listings.
type Eastmoney struct {
	client     *http.Client
	historyURL string
	quoteURL   string
	tracer     trace.Tracer
	limiter    *RateLimiter
}

func NewEastmoney(tracer trace.Tracer) *Eastmoney {
	return &Eastmoney{
		client:     &http.Client{Timeout: 20 * time.Second},
		historyURL: eastmoneyHistoryURL,
		quoteURL:   eastmoneyQuoteURL,
		tracer:     tracer,
		limiter:    NewRateLimiter(5, time.Second),
	}
}

func (p *Eastmoney) Name() string { return "eastmoney" }

// secID renders the market-qualified id Eastmoney expects.
func secID(inst domain.Instrument) string {
	switch inst.Market {
	case domain.MarketAShare:
		if inst.Exchange == domain.ExchangeShanghai {
			return "1." + inst.CanonicalCode
		}
		return "0." + inst.CanonicalCode
	case domain.MarketHK:
		return "116." + inst.CanonicalCode
	default:
		return "105." + strings.ReplaceAll(inst.CanonicalCode, ".", "_")
	}
}

func (p *Eastmoney) FetchPrices(ctx context.Context, inst domain.Instrument, r domain.DateRange) ([]fetcher.RawPriceRow, error) {
	ctx, span := p.tracer.Start(ctx, "eastmoney.fetch-prices")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	url := fmt.Sprintf("%s/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56&klt=101&fqt=1&beg=%s&end=%s",
		p.historyURL, secID(inst), r.From.Format("20060102"), r.To.Format("20060102"))

	body, err := doGet(ctx, p.client, p.limiter, "eastmoney", url, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", inst, err)
	}

	// Response shape: {"data": {"code": "600519", "klines": ["2024-01-02,open,close,high,low,volume", ...]}}
	var raw struct {
		Data *struct {
			Code   string   `json:"code"`
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines for %s: %w", inst, err)
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("eastmoney has no klines for %s", inst)
	}

	rows := make([]fetcher.RawPriceRow, 0, len(raw.Data.Klines))
	for _, line := range raw.Data.Klines {
		fields := strings.Split(line, ",")
		if len(fields) < 6 {
			continue
		}
		rows = append(rows, fetcher.RawPriceRow{
			Date:   fields[0],
			Open:   parseFloatString(fields[1]),
			Close:  parseFloatString(fields[2]),
			High:   parseFloatString(fields[3]),
			Low:    parseFloatString(fields[4]),
			Volume: parseFloatString(fields[5]),
		})
	}
	return rows, nil
}

func (p *Eastmoney) FetchFundamentals(ctx context.Context, inst domain.Instrument) (fetcher.RawIndicators, error) {
	ctx, span := p.tracer.Start(ctx, "eastmoney.fetch-fundamentals")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s&fields=%s",
		p.quoteURL, secID(inst), strings.Join(eastmoneyQuoteFields, ","))

	body, err := doGet(ctx, p.client, p.limiter, "eastmoney", url, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", inst, err)
	}

	var raw struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse quote for %s: %w", inst, err)
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("eastmoney has no quote for %s", inst)
	}

	out := make(fetcher.RawIndicators, len(raw.Data))
	for k, v := range raw.Data {
		// "-" marks a missing figure.
		if s, ok := v.(string); ok && strings.Trim(s, "- ") == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func parseFloatString(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" || v == "-" {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return n
}
