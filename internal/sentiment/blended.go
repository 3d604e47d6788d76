package sentiment

import (
	"context"

	"stockpulse/internal/domain"

	"github.com/rs/zerolog"
)

// IndexedScorer scores a batch and reports which items it covered.
type IndexedScorer interface {
	ScoreIndexed(ctx context.Context, items []domain.NewsItem) (map[int]float64, error)
}

// Blended scores every item with the lexicon, then overrides with model
// scores wherever the model answered. A failed model batch keeps the
// lexicon scores.
type Blended struct {
	lexicon   *Lexicon
	llm       IndexedScorer
	batchSize int
	log       zerolog.Logger
}

func NewBlended(lexicon *Lexicon, llm IndexedScorer, batchSize int, log zerolog.Logger) *Blended {
	if lexicon == nil {
		lexicon = NewLexicon(nil, nil)
	}
	if batchSize <= 0 {
		batchSize = 24
	}
	return &Blended{
		lexicon:   lexicon,
		llm:       llm,
		batchSize: batchSize,
		log:       log.With().Str("component", "sentiment").Logger(),
	}
}

func (b *Blended) Score(ctx context.Context, item domain.NewsItem) (float64, error) {
	scores, err := b.ScoreBatch(ctx, []domain.NewsItem{item})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

func (b *Blended) ScoreBatch(ctx context.Context, items []domain.NewsItem) ([]float64, error) {
	out, _ := b.lexicon.ScoreBatch(ctx, items)
	if b.llm == nil {
		return out, nil
	}

	for start := 0; start < len(items); start += b.batchSize {
		end := min(start+b.batchSize, len(items))
		scored, err := b.llm.ScoreIndexed(ctx, items[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.log.Warn().Err(err).Int("items", end-start).Msg("model scoring failed, keeping lexicon scores")
			continue
		}
		for i, score := range scored {
			out[start+i] = score
		}
	}
	return out, nil
}
