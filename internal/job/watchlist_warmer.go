package job

import (
	"context"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/normalizer"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type PriceWarmer interface {
	Fetch(ctx context.Context, inst domain.Instrument, r domain.DateRange) (*domain.PriceSeries, error)
}

type FundamentalWarmer interface {
	Fetch(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error)
}

// WatchlistWarmer keeps the cache populated for frequently analyzed codes
// so their tasks skip the provider round trips.
type WatchlistWarmer struct {
	tracer       trace.Tracer
	log          zerolog.Logger
	prices       PriceWarmer
	fundamentals FundamentalWarmer
	watchlist    []domain.Instrument
	interval     time.Duration
	lookbackDays int
	perTick      int
	now          func() time.Time
}

// NewWatchlistWarmer normalizes codes up front. Invalid codes are logged
// and skipped.
func NewWatchlistWarmer(tracer trace.Tracer, log zerolog.Logger, prices PriceWarmer, fundamentals FundamentalWarmer, codes []string, interval time.Duration, lookbackDays int) *WatchlistWarmer {
	log = log.With().Str("component", "watchlist-warmer").Logger()
	var watchlist []domain.Instrument
	for _, code := range codes {
		inst, err := normalizer.Normalize(code)
		if err != nil {
			log.Warn().Err(err).Msg("skipping watchlist code")
			continue
		}
		watchlist = append(watchlist, inst)
	}
	return &WatchlistWarmer{
		tracer:       tracer,
		log:          log,
		prices:       prices,
		fundamentals: fundamentals,
		watchlist:    watchlist,
		interval:     interval,
		lookbackDays: lookbackDays,
		perTick:      5,
		now:          time.Now,
	}
}

// Start warms the watchlist every interval, a few instruments per tick.
// Blocks until ctx is cancelled.
func (w *WatchlistWarmer) Start(ctx context.Context) {
	if len(w.watchlist) == 0 {
		w.log.Info().Msg("watchlist empty, warmer idle")
		return
	}
	w.log.Info().Int("instruments", len(w.watchlist)).Dur("interval", w.interval).Msg("watchlist warmer starting")

	idx := 0
	w.warmBatch(ctx, &idx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watchlist warmer stopped")
			return
		case <-ticker.C:
			w.warmBatch(ctx, &idx)
		}
	}
}

func (w *WatchlistWarmer) warmBatch(ctx context.Context, idx *int) {
	n := w.perTick
	if n > len(w.watchlist) {
		n = len(w.watchlist)
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		inst := w.watchlist[*idx%len(w.watchlist)]
		*idx++
		w.warm(ctx, inst)
	}
}

func (w *WatchlistWarmer) warm(ctx context.Context, inst domain.Instrument) {
	ctx, span := w.tracer.Start(ctx, "watchlist-warmer.warm")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	if _, err := w.prices.Fetch(ctx, inst, domain.LastDays(w.now(), w.lookbackDays)); err != nil {
		w.log.Warn().Err(err).Str("instrument", inst.String()).Msg("price warm failed")
	}
	if _, err := w.fundamentals.Fetch(ctx, inst); err != nil {
		w.log.Warn().Err(err).Str("instrument", inst.String()).Msg("fundamental warm failed")
	}
}
