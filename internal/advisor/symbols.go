package advisor

import (
	"strings"
	"unicode"

	"stockpulse/internal/domain"
	"stockpulse/internal/normalizer"
)

// ExtractCodes scans free text for stock codes. Alphabetic tickers only
// count when written in upper case. Returns deduplicated instruments in
// order of appearance.
func ExtractCodes(text string) []domain.Instrument {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.'))
	})

	seen := make(map[string]bool)
	var result []domain.Instrument
	for _, w := range words {
		w = strings.Trim(w, ".")
		if !candidate(w) {
			continue
		}
		inst, err := normalizer.Normalize(w)
		if err != nil || seen[inst.String()] {
			continue
		}
		seen[inst.String()] = true
		result = append(result, inst)
	}
	return result
}

func candidate(w string) bool {
	if len(w) < 2 {
		return false
	}
	if strings.IndexFunc(w, unicode.IsDigit) < 0 {
		return w == strings.ToUpper(w)
	}
	if strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		// Short numbers are usually quantities or years.
		return len(w) >= 5
	}
	return true
}
