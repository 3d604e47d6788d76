package fetcher

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"stockpulse/internal/domain"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"20060102",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Jan 2, 2006",
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// normalizePrices turns provider rows into an ascending series with one
// bar per day inside r. Rows with unparseable dates or a non-positive
// close are dropped; for duplicate days the last row wins.
func normalizePrices(rows []RawPriceRow, r domain.DateRange) []domain.PricePoint {
	byDay := make(map[time.Time]domain.PricePoint, len(rows))
	for _, row := range rows {
		t, ok := parseDate(row.Date)
		if !ok || !(row.Close > 0) || math.IsInf(row.Close, 0) {
			continue
		}
		d := day(t)
		if !r.Contains(d) {
			continue
		}
		byDay[d] = domain.PricePoint{
			Date:   d,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: math.Max(row.Volume, 0),
		}
	}

	points := make([]domain.PricePoint, 0, len(byDay))
	for _, p := range byDay {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

func validPrices(points []domain.PricePoint) error {
	for _, p := range points {
		if p.Close > 0 {
			return nil
		}
	}
	return fmt.Errorf("no price points with a positive close")
}

type indicatorAlias struct {
	name  string
	scale float64
}

// Canonical indicator names.
const (
	IndicatorPE            = "pe_ratio"
	IndicatorPB            = "pb_ratio"
	IndicatorROE           = "roe"
	IndicatorRevenueGrowth = "revenue_growth"
	IndicatorProfitGrowth  = "profit_growth"
	IndicatorGrossMargin   = "gross_margin"
	IndicatorNetMargin     = "net_margin"
	IndicatorDebtToEquity  = "debt_to_equity"
	IndicatorCurrentRatio  = "current_ratio"
	IndicatorMarketCap     = "market_cap"
	IndicatorDividendYield = "dividend_yield"
)

// indicatorAliases maps lower-cased provider names onto canonical names.
// Ratios are expressed in percent, so fractional sources scale by 100.
var indicatorAliases = map[string]indicatorAlias{
	"pe_ratio":       {IndicatorPE, 1},
	"pe":             {IndicatorPE, 1},
	"pe_ttm":         {IndicatorPE, 1},
	"trailingpe":     {IndicatorPE, 1},
	"市盈率":            {IndicatorPE, 1},
	"f162":           {IndicatorPE, 0.01},
	"pb_ratio":       {IndicatorPB, 1},
	"pb":             {IndicatorPB, 1},
	"pricetobook":    {IndicatorPB, 1},
	"市净率":            {IndicatorPB, 1},
	"f167":           {IndicatorPB, 0.01},
	"roe":            {IndicatorROE, 1},
	"净资产收益率":         {IndicatorROE, 1},
	"f173":           {IndicatorROE, 1},
	"returnonequity": {IndicatorROE, 100},
	"revenue_growth": {IndicatorRevenueGrowth, 1},
	"营业收入同比增长":       {IndicatorRevenueGrowth, 1},
	"revenuegrowth":  {IndicatorRevenueGrowth, 100},
	"profit_growth":  {IndicatorProfitGrowth, 1},
	"净利润同比增长":        {IndicatorProfitGrowth, 1},
	"earningsgrowth": {IndicatorProfitGrowth, 100},
	"gross_margin":   {IndicatorGrossMargin, 1},
	"销售毛利率":          {IndicatorGrossMargin, 1},
	"grossmargins":   {IndicatorGrossMargin, 100},
	"net_margin":     {IndicatorNetMargin, 1},
	"销售净利率":          {IndicatorNetMargin, 1},
	"profitmargins":  {IndicatorNetMargin, 100},
	"debt_to_equity": {IndicatorDebtToEquity, 1},
	"debttoequity":   {IndicatorDebtToEquity, 1},
	"current_ratio":  {IndicatorCurrentRatio, 1},
	"currentratio":   {IndicatorCurrentRatio, 1},
	"流动比率":           {IndicatorCurrentRatio, 1},
	"market_cap":     {IndicatorMarketCap, 1},
	"marketcap":      {IndicatorMarketCap, 1},
	"f116":           {IndicatorMarketCap, 1},
	"总市值":            {IndicatorMarketCap, 1},
	"dividend_yield": {IndicatorDividendYield, 1},
	"dividendyield":  {IndicatorDividendYield, 1},
	"股息率":            {IndicatorDividendYield, 1},
}

// normalizeFundamentals keeps the indicators with a canonical name. When
// several aliases map to the same name the lexically first alias wins, so
// the result does not depend on map order.
func normalizeFundamentals(raw RawIndicators) map[string]float64 {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]float64)
	for _, k := range keys {
		alias, ok := indicatorAliases[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		if _, taken := out[alias.name]; taken {
			continue
		}
		v, ok := asFloat(raw[k])
		if !ok {
			continue
		}
		out[alias.name] = v * alias.scale
	}
	return out
}

func validFundamentals(ind map[string]float64) error {
	if len(ind) == 0 {
		return fmt.Errorf("no recognised indicators")
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// normalizeNews de-duplicates by headline, drops items published before
// the lookback window, orders newest first and caps the list. Items
// without a parseable date are stamped with now.
func normalizeNews(raw []RawNewsItem, now time.Time, lookbackDays, maxItems int) []domain.NewsItem {
	cutoff := now.AddDate(0, 0, -lookbackDays)
	seen := make(map[string]struct{}, len(raw))
	items := make([]domain.NewsItem, 0, len(raw))
	for _, r := range raw {
		headline := strings.Join(strings.Fields(r.Title), " ")
		if headline == "" {
			continue
		}
		dedupKey := strings.ToLower(headline)
		if _, dup := seen[dedupKey]; dup {
			continue
		}
		published, ok := parseDate(r.Published)
		if !ok {
			published = now
		}
		if lookbackDays > 0 && published.Before(cutoff) {
			continue
		}
		seen[dedupKey] = struct{}{}
		items = append(items, domain.NewsItem{
			Headline:    headline,
			Summary:     strings.TrimSpace(r.Summary),
			URL:         strings.TrimSpace(r.URL),
			Source:      strings.TrimSpace(r.Source),
			PublishedAt: published,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].PublishedAt.After(items[j].PublishedAt) })
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func validNews(items []domain.NewsItem) error {
	if len(items) == 0 {
		return fmt.Errorf("no news items")
	}
	return nil
}
