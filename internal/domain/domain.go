package domain

import "time"

// Market identifies the listing venue family of an instrument.
type Market string

const (
	MarketAShare Market = "A_SHARE"
	MarketHK     Market = "HK"
	MarketUS     Market = "US"
)

// SupportedMarkets lists every market the normalizer can classify into.
var SupportedMarkets = []Market{MarketAShare, MarketHK, MarketUS}

// Exchange codes used in canonical identifiers.
const (
	ExchangeShanghai = "SH"
	ExchangeShenzhen = "SZ"
	ExchangeBeijing  = "BJ"
	ExchangeHKEX     = "HKEX"
	ExchangeUS       = "US"
)

// Instrument is a normalized, immutable security identifier.
type Instrument struct {
	RawCode       string `json:"raw_code" msgpack:"raw_code"`
	CanonicalCode string `json:"canonical_code" msgpack:"canonical_code"`
	Market        Market `json:"market" msgpack:"market"`
	Exchange      string `json:"exchange" msgpack:"exchange"`
}

func (i Instrument) String() string {
	return string(i.Market) + ":" + i.CanonicalCode
}

// MarketInfo describes static properties of a market.
type MarketInfo struct {
	Market         Market `json:"market"`
	Currency       string `json:"currency"`
	Timezone       string `json:"timezone"`
	TradingSession string `json:"trading_session"`
}

// DataKind names one category of upstream data.
type DataKind string

const (
	KindPrice       DataKind = "price"
	KindFundamental DataKind = "fundamental"
	KindNews        DataKind = "news"
)

// DateRange is an inclusive calendar range used for price queries.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastDays returns the range ending at now and covering the previous days calendar days.
func LastDays(now time.Time, days int) DateRange {
	if days <= 0 {
		days = 1
	}
	end := now.UTC().Truncate(24 * time.Hour)
	return DateRange{From: end.AddDate(0, 0, -days), To: end}
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	day := t.UTC().Truncate(24 * time.Hour)
	if !r.From.IsZero() && day.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && day.After(r.To) {
		return false
	}
	return true
}
