// Package sentiment scores news items on a [-1, 1] scale.
package sentiment

import (
	"context"
	"math"
	"strings"

	"stockpulse/internal/domain"
)

var (
	defaultPositive = []string{
		"上涨", "增长", "利好", "突破", "创新高", "盈利", "收益", "成功", "优秀", "强劲",
		"upgrade", "beat", "surge", "rally", "record high", "growth", "profit", "outperform", "buy", "strong",
	}
	defaultNegative = []string{
		"下跌", "下降", "利空", "亏损", "风险", "下调", "担忧", "问题", "困难", "危机",
		"downgrade", "miss", "plunge", "slump", "loss", "lawsuit", "probe", "underperform", "sell", "weak",
	}
)

// Lexicon counts positive and negative keywords in the headline and
// summary.
type Lexicon struct {
	positive []string
	negative []string
}

// NewLexicon returns a lexicon scorer. Nil word lists fall back to the
// built-in Chinese and English lists.
func NewLexicon(positive, negative []string) *Lexicon {
	if len(positive) == 0 {
		positive = defaultPositive
	}
	if len(negative) == 0 {
		negative = defaultNegative
	}
	return &Lexicon{positive: lower(positive), negative: lower(negative)}
}

func (l *Lexicon) Score(_ context.Context, item domain.NewsItem) (float64, error) {
	return l.score(item.Headline + " " + item.Summary), nil
}

func (l *Lexicon) ScoreBatch(_ context.Context, items []domain.NewsItem) ([]float64, error) {
	out := make([]float64, len(items))
	for i, item := range items {
		out[i] = l.score(item.Headline + " " + item.Summary)
	}
	return out, nil
}

func (l *Lexicon) score(text string) float64 {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0
	}
	pos := countMatches(text, l.positive)
	neg := countMatches(text, l.negative)
	return clamp(float64(pos-neg)/float64(pos+neg+1), -1, 1)
}

func countMatches(text string, tokens []string) int {
	count := 0
	for _, token := range tokens {
		if strings.Contains(text, token) {
			count++
		}
	}
	return count
}

func lower(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Label buckets a score the way news summaries report it.
func Label(score float64) string {
	switch {
	case score > 0.1:
		return LabelPositive
	case score < -0.1:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
