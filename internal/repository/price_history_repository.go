// Package repository persists analysis reports and daily price history in
// Postgres.
package repository

import (
	"context"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/fetcher"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const dayLayout = "2006-01-02"

// PriceHistoryRepository stores every price series a provider returned.
// It is also the last capability in each price chain, so a stock can
// still be analyzed from stored bars while every upstream is down.
type PriceHistoryRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPriceHistoryRepository(pool PgxPool, tracer trace.Tracer) *PriceHistoryRepository {
	return &PriceHistoryRepository{pool: pool, tracer: tracer}
}

func (r *PriceHistoryRepository) Name() string { return fetcher.HistoryProvider }

func (r *PriceHistoryRepository) SavePrices(ctx context.Context, series *domain.PriceSeries) error {
	if series == nil || len(series.Points) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "price-history-repo.save-prices")
	defer span.End()
	span.SetAttributes(
		attribute.String("instrument", series.Instrument.String()),
		attribute.Int("points", len(series.Points)),
	)

	inst := series.Instrument
	batch := &pgx.Batch{}
	for _, p := range series.Points {
		batch.Queue(
			`INSERT INTO price_history (market, code, day, open, high, low, close, volume, provider)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (market, code, day) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume,
			     provider = EXCLUDED.provider`,
			string(inst.Market), inst.CanonicalCode, p.Date.UTC(), p.Open, p.High, p.Low, p.Close, p.Volume, series.Provider,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range series.Points {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// FetchPrices returns the stored bars for inst within r, oldest first.
func (r *PriceHistoryRepository) FetchPrices(ctx context.Context, inst domain.Instrument, dr domain.DateRange) ([]fetcher.RawPriceRow, error) {
	ctx, span := r.tracer.Start(ctx, "price-history-repo.fetch-prices")
	defer span.End()
	span.SetAttributes(attribute.String("instrument", inst.String()))

	rows, err := r.pool.Query(ctx,
		`SELECT day, open, high, low, close, volume
		 FROM price_history
		 WHERE market = $1 AND code = $2 AND day >= $3 AND day <= $4
		 ORDER BY day ASC`,
		string(inst.Market), inst.CanonicalCode, dr.From, dr.To,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fetcher.RawPriceRow
	for rows.Next() {
		var day time.Time
		var row fetcher.RawPriceRow
		if err := rows.Scan(&day, &row.Open, &row.High, &row.Low, &row.Close, &row.Volume); err != nil {
			return nil, err
		}
		row.Date = day.UTC().Format(dayLayout)
		out = append(out, row)
	}
	return out, rows.Err()
}
