// Package fetcher turns provider chains into normalized price, fundamental
// and news records, shared across tasks through the cache.
package fetcher

import (
	"context"
	"strconv"
	"time"

	"stockpulse/internal/cache"
	"stockpulse/internal/chain"
	"stockpulse/internal/domain"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store is an optional second cache tier consulted before a chain runs.
type Store interface {
	Load(ctx context.Context, key string, dst any) (bool, error)
	Save(ctx context.Context, key string, v any, ttl time.Duration) error
}

// HistoryWriter persists successfully fetched price series.
type HistoryWriter interface {
	SavePrices(ctx context.Context, series *domain.PriceSeries) error
}

// Chains holds the ordered capabilities per market. Slice order is the
// chain priority.
type Chains struct {
	Price       map[domain.Market][]PriceCapability
	Fundamental map[domain.Market][]FundamentalCapability
	News        map[domain.Market][]NewsCapability
}

// Options are shared by the three fetchers.
type Options struct {
	Cache          *cache.Cache
	Store          Store
	History        HistoryWriter
	Runner         *chain.Runner
	Tracer         trace.Tracer
	Logger         zerolog.Logger
	Scorer         Scorer
	PriceTTL       time.Duration
	FundamentalTTL time.Duration
	NewsTTL        time.Duration
	AttemptTimeout time.Duration
	NewsMaxItems   int
}

type base struct {
	cache   *cache.Cache
	store   Store
	runner  *chain.Runner
	tracer  trace.Tracer
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func newBase(opts Options, component string) base {
	return base{
		cache:   opts.Cache,
		store:   opts.Store,
		runner:  opts.Runner,
		tracer:  opts.Tracer,
		log:     opts.Logger.With().Str("component", component).Logger(),
		timeout: opts.AttemptTimeout,
		now:     time.Now,
	}
}

// load resolves key through the cache, then the optional store, then run.
// A successful run is written back to the store.
func load[T any](ctx context.Context, b *base, key string, ttl time.Duration, run func(ctx context.Context) (*T, error)) (*T, error) {
	v, err := b.cache.GetOrLoad(ctx, key, ttl, func(lctx context.Context) (any, error) {
		if b.store != nil {
			var cached T
			found, err := b.store.Load(lctx, key, &cached)
			if err != nil {
				b.log.Warn().Err(err).Str("key", key).Msg("store lookup failed")
			}
			if found {
				return &cached, nil
			}
		}

		rec, err := run(lctx)
		if err != nil {
			return nil, err
		}
		if b.store != nil {
			if err := b.store.Save(lctx, key, rec, ttl); err != nil {
				b.log.Warn().Err(err).Str("key", key).Msg("store write failed")
			}
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// PriceFetcher returns daily price series.
type PriceFetcher struct {
	base
	chains  map[domain.Market][]PriceCapability
	history HistoryWriter
	ttl     time.Duration
}

func NewPriceFetcher(opts Options, chains map[domain.Market][]PriceCapability) *PriceFetcher {
	return &PriceFetcher{
		base:    newBase(opts, "fetcher.price"),
		chains:  chains,
		history: opts.History,
		ttl:     opts.PriceTTL,
	}
}

// Fetch returns the series for inst clipped to r. The returned series is
// shared with other callers and must not be modified.
func (f *PriceFetcher) Fetch(ctx context.Context, inst domain.Instrument, r domain.DateRange) (*domain.PriceSeries, error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.price")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	key := Key(domain.KindPrice, inst, map[string]string{
		"from": r.From.Format("20060102"),
		"to":   r.To.Format("20060102"),
	})
	return load(ctx, &f.base, key, f.ttl, func(ctx context.Context) (*domain.PriceSeries, error) {
		caps := f.chains[inst.Market]
		attempts := make([]chain.Attempt[[]domain.PricePoint], 0, len(caps))
		for i, c := range caps {
			attempts = append(attempts, chain.Attempt[[]domain.PricePoint]{
				Provider: c.Name(),
				Priority: i,
				Call: func(ctx context.Context) ([]domain.PricePoint, error) {
					rows, err := c.FetchPrices(ctx, inst, r)
					if err != nil {
						return nil, err
					}
					return normalizePrices(rows, r), nil
				},
			})
		}

		res, err := chain.Execute(ctx, f.runner, chain.Spec[[]domain.PricePoint]{
			Kind:    domain.KindPrice,
			Timeout: f.timeout,
			Valid:   validPrices,
		}, attempts)
		if err != nil {
			return nil, err
		}

		series := &domain.PriceSeries{
			Instrument: inst,
			Points:     res.Value,
			Provider:   res.Provider,
			FetchedAt:  f.now().UTC(),
		}
		if f.history != nil && res.Provider != HistoryProvider {
			if err := f.history.SavePrices(ctx, series); err != nil {
				f.log.Warn().Err(err).Str("instrument", inst.String()).Msg("price history write failed")
			}
		}
		return series, nil
	})
}

// HistoryProvider is the name of the capability backed by the price
// history table. Its results are not written back.
const HistoryProvider = "history"

// FundamentalFetcher returns canonical fundamental indicators.
type FundamentalFetcher struct {
	base
	chains map[domain.Market][]FundamentalCapability
	ttl    time.Duration
}

func NewFundamentalFetcher(opts Options, chains map[domain.Market][]FundamentalCapability) *FundamentalFetcher {
	return &FundamentalFetcher{
		base:   newBase(opts, "fetcher.fundamental"),
		chains: chains,
		ttl:    opts.FundamentalTTL,
	}
}

func (f *FundamentalFetcher) Fetch(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.fundamental")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	key := Key(domain.KindFundamental, inst, nil)
	return load(ctx, &f.base, key, f.ttl, func(ctx context.Context) (*domain.Fundamentals, error) {
		caps := f.chains[inst.Market]
		attempts := make([]chain.Attempt[map[string]float64], 0, len(caps))
		for i, c := range caps {
			attempts = append(attempts, chain.Attempt[map[string]float64]{
				Provider: c.Name(),
				Priority: i,
				Call: func(ctx context.Context) (map[string]float64, error) {
					raw, err := c.FetchFundamentals(ctx, inst)
					if err != nil {
						return nil, err
					}
					return normalizeFundamentals(raw), nil
				},
			})
		}

		res, err := chain.Execute(ctx, f.runner, chain.Spec[map[string]float64]{
			Kind:    domain.KindFundamental,
			Timeout: f.timeout,
			Valid:   validFundamentals,
		}, attempts)
		if err != nil {
			return nil, err
		}
		return &domain.Fundamentals{
			Instrument: inst,
			Indicators: res.Value,
			Provider:   res.Provider,
			FetchedAt:  f.now().UTC(),
		}, nil
	})
}

// NewsFetcher returns recent news scored for sentiment.
type NewsFetcher struct {
	base
	chains   map[domain.Market][]NewsCapability
	scorer   Scorer
	ttl      time.Duration
	maxItems int
}

func NewNewsFetcher(opts Options, chains map[domain.Market][]NewsCapability) *NewsFetcher {
	maxItems := opts.NewsMaxItems
	if maxItems <= 0 {
		maxItems = 100
	}
	return &NewsFetcher{
		base:     newBase(opts, "fetcher.news"),
		chains:   chains,
		scorer:   opts.Scorer,
		ttl:      opts.NewsTTL,
		maxItems: maxItems,
	}
}

func (f *NewsFetcher) Fetch(ctx context.Context, inst domain.Instrument, lookbackDays int) (*domain.NewsRecord, error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.news")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	key := Key(domain.KindNews, inst, map[string]string{"days": strconv.Itoa(lookbackDays)})
	return load(ctx, &f.base, key, f.ttl, func(ctx context.Context) (*domain.NewsRecord, error) {
		now := f.now().UTC()
		caps := f.chains[inst.Market]
		attempts := make([]chain.Attempt[[]domain.NewsItem], 0, len(caps))
		for i, c := range caps {
			attempts = append(attempts, chain.Attempt[[]domain.NewsItem]{
				Provider: c.Name(),
				Priority: i,
				Call: func(ctx context.Context) ([]domain.NewsItem, error) {
					raw, err := c.FetchNews(ctx, inst, lookbackDays)
					if err != nil {
						return nil, err
					}
					return normalizeNews(raw, now, lookbackDays, f.maxItems), nil
				},
			})
		}

		res, err := chain.Execute(ctx, f.runner, chain.Spec[[]domain.NewsItem]{
			Kind:    domain.KindNews,
			Timeout: f.timeout,
			Valid:   validNews,
		}, attempts)
		if err != nil {
			return nil, err
		}

		items := res.Value
		if err := f.score(ctx, items); err != nil {
			return nil, err
		}
		return &domain.NewsRecord{
			Instrument: inst,
			Items:      items,
			Provider:   res.Provider,
			FetchedAt:  now,
		}, nil
	})
}

// score fills Sentiment in place. Only cancellation is an error: a scorer
// failure leaves the affected items neutral.
func (f *NewsFetcher) score(ctx context.Context, items []domain.NewsItem) error {
	if f.scorer == nil || len(items) == 0 {
		return nil
	}
	if batch, ok := f.scorer.(BatchScorer); ok {
		scores, err := batch.ScoreBatch(ctx, items)
		if err == nil && len(scores) == len(items) {
			for i := range items {
				items[i].Sentiment = scores[i]
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Err(err).Msg("batch scoring failed, scoring items one by one")
	}

	for i := range items {
		score, err := f.scorer.Score(ctx, items[i])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Str("headline", items[i].Headline).Msg("sentiment scoring failed")
			score = 0
		}
		items[i].Sentiment = score
	}
	return nil
}
