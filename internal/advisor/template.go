package advisor

import (
	"context"
	"fmt"
	"strings"
)

// TemplateStreamer renders a rule-based report locally. It is used when no
// model is configured and streams the text line by line.
type TemplateStreamer struct{}

func NewTemplateStreamer() *TemplateStreamer { return &TemplateStreamer{} }

func (TemplateStreamer) Name() string { return "template" }

func (TemplateStreamer) Stream(ctx context.Context, p Prompt) (TokenStream, error) {
	text := RenderReport(p.Data)
	return &sliceStream{ctx: ctx, tokens: splitTokens(text)}, nil
}

// RenderReport writes a deterministic markdown report from the figures.
func RenderReport(d PromptData) string {
	var sb strings.Builder
	code := d.Instrument.CanonicalCode
	s := d.Scores

	fmt.Fprintf(&sb, "## %s analysis\n\n", code)
	fmt.Fprintf(&sb, "Composite score **%.1f** / 100, recommendation: **%s**.\n\n", s.Composite, s.Recommendation)

	sb.WriteString("### Technical\n\n")
	t := d.Technical
	switch t.Trend {
	case "bullish":
		sb.WriteString("Moving averages are in bullish alignment (MA5 > MA10 > MA20).\n")
	case "bearish":
		sb.WriteString("Moving averages are in bearish alignment (MA5 < MA10 < MA20).\n")
	case "sideways":
		sb.WriteString("Moving averages are mixed; price is range bound.\n")
	default:
		sb.WriteString("Not enough history for a trend reading.\n")
	}
	switch {
	case t.RSI > 70:
		fmt.Fprintf(&sb, "RSI %.1f is overbought.\n", t.RSI)
	case t.RSI > 0 && t.RSI < 30:
		fmt.Fprintf(&sb, "RSI %.1f is oversold.\n", t.RSI)
	case t.RSI > 0:
		fmt.Fprintf(&sb, "RSI %.1f is neutral.\n", t.RSI)
	}
	if t.MACDHist > 0 {
		sb.WriteString("MACD is above its signal line.\n")
	} else if t.MACDHist < 0 {
		sb.WriteString("MACD is below its signal line.\n")
	}
	if d.PriceInfo.VolumeRatio > 0 {
		fmt.Fprintf(&sb, "Volume is %.2fx its 20-day average.\n", d.PriceInfo.VolumeRatio)
	}

	sb.WriteString("\n### Fundamental\n\n")
	if s.Fundamental == nil {
		sb.WriteString("Fundamental data unavailable; the composite excludes it.\n")
	} else {
		fmt.Fprintf(&sb, "Fundamental score %.1f.\n", *s.Fundamental)
	}

	sb.WriteString("\n### Sentiment\n\n")
	if s.Sentiment == nil {
		sb.WriteString("News data unavailable; the composite excludes it.\n")
	} else {
		n := d.News
		fmt.Fprintf(&sb, "%d recent items, %d positive and %d negative. Overall tone is %s.\n",
			n.Count, n.Positive, n.Negative, n.Trend)
	}

	if len(d.Degraded) > 0 {
		kinds := make([]string, len(d.Degraded))
		for i, k := range d.Degraded {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&sb, "\n_Degraded inputs: %s._\n", strings.Join(kinds, ", "))
	}
	if d.PriceInfo.Volatility > 0 {
		fmt.Fprintf(&sb, "\nAnnualized volatility is %.1f%%.\n", d.PriceInfo.Volatility*100)
	}
	return sb.String()
}

func splitTokens(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// sliceStream replays fixed tokens and stops early when ctx ends.
type sliceStream struct {
	ctx    context.Context
	tokens []string
	pos    int
	cur    string
	err    error
}

func (s *sliceStream) Next() bool {
	if s.err != nil || s.pos >= len(s.tokens) {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	s.cur = s.tokens[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) Current() string { return s.cur }
func (s *sliceStream) Err() error      { return s.err }
func (s *sliceStream) Close() error    { return nil }

var _ AICapability = TemplateStreamer{}
