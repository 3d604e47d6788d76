package fetcher

import (
	"sort"
	"strings"

	"stockpulse/internal/domain"
)

// Key derives the cache key for a query: kind:market:code followed by the
// parameters in sorted order.
func Key(kind domain.DataKind, inst domain.Instrument, params map[string]string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(':')
	b.WriteString(string(inst.Market))
	b.WriteByte(':')
	b.WriteString(inst.CanonicalCode)

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
