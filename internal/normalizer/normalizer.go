// Package normalizer classifies raw instrument identifiers into a market and
// canonical code. It performs no I/O.
package normalizer

import (
	"regexp"
	"strings"

	"stockpulse/internal/domain"
)

var (
	usTicker     = regexp.MustCompile(`^[A-Z]{1,5}([.-][A-Z]{1,2})?$`)
	digitsOnly   = regexp.MustCompile(`^[0-9]+$`)
	prefixedCode = regexp.MustCompile(`^(SH|SZ|BJ|HK)([0-9]{1,6})$`)
)

var aShareExchanges = []struct {
	prefix   string
	exchange string
}{
	{"60", domain.ExchangeShanghai},
	{"68", domain.ExchangeShanghai},
	{"90", domain.ExchangeShanghai},
	{"51", domain.ExchangeShanghai}, // funds and ETFs
	{"56", domain.ExchangeShanghai},
	{"58", domain.ExchangeShanghai},
	{"00", domain.ExchangeShenzhen},
	{"20", domain.ExchangeShenzhen},
	{"30", domain.ExchangeShenzhen},
	{"15", domain.ExchangeShenzhen},
	{"16", domain.ExchangeShenzhen},
	{"18", domain.ExchangeShenzhen},
	{"43", domain.ExchangeBeijing},
	{"83", domain.ExchangeBeijing},
	{"87", domain.ExchangeBeijing},
	{"88", domain.ExchangeBeijing},
	{"92", domain.ExchangeBeijing},
}

var marketInfo = map[domain.Market]domain.MarketInfo{
	domain.MarketAShare: {Market: domain.MarketAShare, Currency: "CNY", Timezone: "Asia/Shanghai", TradingSession: "09:30-11:30,13:00-15:00"},
	domain.MarketHK:     {Market: domain.MarketHK, Currency: "HKD", Timezone: "Asia/Hong_Kong", TradingSession: "09:30-12:00,13:00-16:00"},
	domain.MarketUS:     {Market: domain.MarketUS, Currency: "USD", Timezone: "America/New_York", TradingSession: "09:30-16:00"},
}

// Normalize maps a raw identifier onto an Instrument. Unrecognized shapes
// yield an error wrapping domain.ErrInvalidIdentifier.
func Normalize(raw string) (domain.Instrument, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return domain.Instrument{}, domain.InvalidIdentifier(raw)
	}

	inst, ok := classify(code)
	if !ok {
		return domain.Instrument{}, domain.InvalidIdentifier(raw)
	}
	inst.RawCode = raw
	return inst, nil
}

func classify(code string) (domain.Instrument, bool) {
	if m := prefixedCode.FindStringSubmatch(code); m != nil {
		if m[1] == "HK" {
			return hongKong(m[2])
		}
		return aShare(m[2], m[1])
	}

	if digitsOnly.MatchString(code) {
		if isHongKongShape(code) {
			return hongKong(code)
		}
		return aShare(code, "")
	}

	if base, suffix, found := strings.Cut(code, "."); found && digitsOnly.MatchString(base) {
		switch suffix {
		case "SS", "SH":
			return aShare(base, domain.ExchangeShanghai)
		case "SZ":
			return aShare(base, domain.ExchangeShenzhen)
		case "BJ":
			return aShare(base, domain.ExchangeBeijing)
		case "HK":
			return hongKong(base)
		}
		return domain.Instrument{}, false
	}

	if usTicker.MatchString(code) {
		return domain.Instrument{
			CanonicalCode: code,
			Market:        domain.MarketUS,
			Exchange:      domain.ExchangeUS,
		}, true
	}
	return domain.Instrument{}, false
}

func isHongKongShape(code string) bool {
	if len(code) < 4 || len(code) > 5 {
		return false
	}
	return strings.ContainsRune("0123689", rune(code[0]))
}

func hongKong(digits string) (domain.Instrument, bool) {
	if len(digits) == 0 || len(digits) > 5 {
		return domain.Instrument{}, false
	}
	return domain.Instrument{
		CanonicalCode: leftPad(digits, 5),
		Market:        domain.MarketHK,
		Exchange:      domain.ExchangeHKEX,
	}, true
}

// aShare pads the code to six digits and infers the exchange from its
// prefix unless one was given explicitly.
func aShare(digits, exchange string) (domain.Instrument, bool) {
	if len(digits) == 0 || len(digits) > 6 {
		return domain.Instrument{}, false
	}
	code := leftPad(digits, 6)
	if exchange == "" {
		for _, rule := range aShareExchanges {
			if strings.HasPrefix(code, rule.prefix) {
				exchange = rule.exchange
				break
			}
		}
	}
	if exchange == "" {
		return domain.Instrument{}, false
	}
	return domain.Instrument{
		CanonicalCode: code,
		Market:        domain.MarketAShare,
		Exchange:      exchange,
	}, true
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Info returns static market metadata.
func Info(m domain.Market) domain.MarketInfo {
	if info, ok := marketInfo[m]; ok {
		return info
	}
	return domain.MarketInfo{Market: m}
}

// YahooSymbol renders the instrument in Yahoo Finance notation.
func YahooSymbol(inst domain.Instrument) string {
	switch inst.Market {
	case domain.MarketAShare:
		switch inst.Exchange {
		case domain.ExchangeShanghai:
			return inst.CanonicalCode + ".SS"
		case domain.ExchangeBeijing:
			return inst.CanonicalCode + ".BJ"
		default:
			return inst.CanonicalCode + ".SZ"
		}
	case domain.MarketHK:
		code := strings.TrimLeft(inst.CanonicalCode, "0")
		return leftPad(code, 4) + ".HK"
	default:
		return strings.ReplaceAll(inst.CanonicalCode, ".", "-")
	}
}
