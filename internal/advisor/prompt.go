package advisor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stockpulse/internal/domain"
)

const analystPhilosophy = `You are an equity research analyst covering mainland China A-shares, Hong Kong and US listed stocks. Your role is to interpret the quantitative data provided, NOT to invent new data.

Structure:
- Overview: one paragraph on the current setup.
- Technical: trend, momentum and volume, citing the indicator values.
- Fundamental: valuation and profitability, citing the indicator values.
- Sentiment: what recent news implies.
- Risks: the main risks to the view.
- Conclusion: restate the recommendation and a short-term and medium-term outlook.

Rules:
- Always reference the specific figures supplied.
- Never fabricate data. If a section's data is marked unavailable, say so and lower your confidence.
- Express uncertainty when signals conflict.
- Answer in the language of the stock's home market: Chinese for A-share and HK stocks, English for US stocks.`

// PromptData is the quantitative context of one analysis.
type PromptData struct {
	Instrument   domain.Instrument
	MarketInfo   domain.MarketInfo
	PriceInfo    domain.PriceInfo
	Technical    domain.TechnicalIndicators
	Fundamentals map[string]float64
	News         domain.NewsSummary
	Scores       domain.Scores
	Degraded     []domain.DataKind
	AsOf         time.Time
}

func (d PromptData) degraded(kind domain.DataKind) bool {
	for _, k := range d.Degraded {
		if k == kind {
			return true
		}
	}
	return false
}

// BuildPrompt renders the system and user messages for an analysis.
func BuildPrompt(d PromptData) Prompt {
	if d.AsOf.IsZero() {
		d.AsOf = time.Now().UTC()
	}
	var sb strings.Builder
	sb.WriteString(analystPhilosophy)
	sb.WriteString("\n\n--- ANALYSIS DATA (as of ")
	sb.WriteString(d.AsOf.Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(FormatContext(d))

	user := fmt.Sprintf("Write the analysis report for %s (%s, %s).",
		d.Instrument.CanonicalCode, d.Instrument.Market, d.Instrument.Exchange)
	return Prompt{System: sb.String(), User: user, Data: d}
}

// FormatContext lists every figure the model may cite.
func FormatContext(d PromptData) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "\nInstrument: %s market=%s exchange=%s currency=%s\n",
		d.Instrument.CanonicalCode, d.Instrument.Market, d.Instrument.Exchange, d.MarketInfo.Currency)

	p := d.PriceInfo
	sb.WriteString("\nPrice:\n")
	fmt.Fprintf(&sb, "  close=%.2f prev=%.2f change=%+.2f%% volume_ratio=%.2f volatility=%.2f%%\n",
		p.CurrentPrice, p.PreviousClose, p.ChangePct, p.VolumeRatio, p.Volatility*100)
	fmt.Fprintf(&sb, "  52w_high=%.2f 52w_low=%.2f\n", p.High52W, p.Low52W)

	t := d.Technical
	sb.WriteString("\nTechnical:\n")
	fmt.Fprintf(&sb, "  trend=%s ma5=%.2f ma10=%.2f ma20=%.2f ma60=%.2f\n", t.Trend, t.MA5, t.MA10, t.MA20, t.MA60)
	fmt.Fprintf(&sb, "  rsi=%.1f macd=%.3f signal=%.3f hist=%.3f\n", t.RSI, t.MACD, t.MACDSignal, t.MACDHist)
	fmt.Fprintf(&sb, "  bb_upper=%.2f bb_lower=%.2f bb_position=%.2f\n", t.BBUpper, t.BBLower, t.BBPosition)

	sb.WriteString("\nFundamental:\n")
	if d.degraded(domain.KindFundamental) || len(d.Fundamentals) == 0 {
		sb.WriteString("  fundamental data unavailable\n")
	} else {
		keys := make([]string, 0, len(d.Fundamentals))
		for k := range d.Fundamentals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s=%.2f\n", k, d.Fundamentals[k])
		}
	}

	sb.WriteString("\nNews:\n")
	if d.degraded(domain.KindNews) {
		sb.WriteString("  news data unavailable\n")
	} else {
		n := d.News
		fmt.Fprintf(&sb, "  items=%d positive=%d negative=%d neutral=%d mean=%.3f trend=%s\n",
			n.Count, n.Positive, n.Negative, n.Neutral, n.MeanSentiment, n.Trend)
		for _, h := range n.Headlines {
			fmt.Fprintf(&sb, "  - [%s] %s (%+.2f)\n", h.PublishedAt.Format("2006-01-02"), h.Headline, h.Sentiment)
		}
	}

	s := d.Scores
	_, hasTechnical := s.Weights["technical"]
	sb.WriteString("\nScores (0-100):\n")
	fmt.Fprintf(&sb, "  technical=%s fundamental=%s sentiment=%s composite=%.1f recommendation=%s\n",
		formatScore(&s.Technical, hasTechnical), formatScore(s.Fundamental, true),
		formatScore(s.Sentiment, true), s.Composite, s.Recommendation)

	return sb.String()
}

func formatScore(v *float64, ok bool) string {
	if v == nil || !ok {
		return "na"
	}
	return fmt.Sprintf("%.1f", *v)
}
