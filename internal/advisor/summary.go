package advisor

import (
	"fmt"
	"strings"

	"stockpulse/internal/domain"
)

// Summary renders a finished report for chat surfaces: the headline
// figures, data quality and then the analysis text.
func Summary(r *domain.AnalysisReport) string {
	var sb strings.Builder
	s := r.Scores

	fmt.Fprintf(&sb, "%s (%s)\n", r.Instrument.CanonicalCode, r.Instrument.Market)
	fmt.Fprintf(&sb, "Price %.2f %s (%+.2f%%)\n", r.PriceInfo.CurrentPrice, r.MarketInfo.Currency, r.PriceInfo.ChangePct)
	fmt.Fprintf(&sb, "Score %.1f/100: %s\n", s.Composite, s.Recommendation)
	fmt.Fprintf(&sb, "Technical %.1f | Fundamental %s | Sentiment %s\n",
		s.Technical, formatScore(s.Fundamental, true), formatScore(s.Sentiment, true))
	if len(r.DataQuality.Degraded) > 0 {
		kinds := make([]string, len(r.DataQuality.Degraded))
		for i, k := range r.DataQuality.Degraded {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&sb, "Unavailable: %s\n", strings.Join(kinds, ", "))
	}
	if text := strings.TrimSpace(r.AIAnalysis); text != "" {
		sb.WriteString("\n")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}
