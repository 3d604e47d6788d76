package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockpulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReportSummary is one row of the report listing. The full report stays in
// the JSONB column until it is requested by task id.
type ReportSummary struct {
	TaskID         string        `json:"task_id"`
	Market         domain.Market `json:"market"`
	Code           string        `json:"code"`
	Composite      float64       `json:"composite"`
	Recommendation string        `json:"recommendation"`
	AIModel        string        `json:"ai_model"`
	CompletedAt    time.Time     `json:"completed_at"`
}

type ReportRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewReportRepository(pool PgxPool, tracer trace.Tracer) *ReportRepository {
	return &ReportRepository{pool: pool, tracer: tracer}
}

// SaveReport upserts a finished report keyed by task id.
func (r *ReportRepository) SaveReport(ctx context.Context, report *domain.AnalysisReport) error {
	ctx, span := r.tracer.Start(ctx, "report-repo.save-report")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", report.TaskID))

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.TaskID, err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO analysis_reports (task_id, market, code, composite, recommendation, ai_model, report, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (task_id) DO UPDATE SET
		     composite = EXCLUDED.composite,
		     recommendation = EXCLUDED.recommendation,
		     ai_model = EXCLUDED.ai_model,
		     report = EXCLUDED.report,
		     completed_at = EXCLUDED.completed_at`,
		report.TaskID,
		string(report.Instrument.Market),
		report.Instrument.CanonicalCode,
		report.Scores.Composite,
		report.Scores.Recommendation,
		report.AIModel,
		body,
		report.CreatedAt.UTC(),
		report.CompletedAt.UTC(),
	)
	return err
}

func (r *ReportRepository) GetReport(ctx context.Context, taskID string) (*domain.AnalysisReport, error) {
	ctx, span := r.tracer.Start(ctx, "report-repo.get-report")
	defer span.End()

	var body []byte
	err := r.pool.QueryRow(ctx, `SELECT report FROM analysis_reports WHERE task_id = $1`, taskID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", taskID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var report domain.AnalysisReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", taskID, err)
	}
	return &report, nil
}

// ListReports returns the newest reports first. An empty code lists every
// instrument.
func (r *ReportRepository) ListReports(ctx context.Context, code string, limit int) ([]ReportSummary, error) {
	ctx, span := r.tracer.Start(ctx, "report-repo.list-reports")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT task_id, market, code, composite, recommendation, ai_model, completed_at
		 FROM analysis_reports
		 WHERE $1 = '' OR code = $1
		 ORDER BY completed_at DESC
		 LIMIT $2`,
		code, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var s ReportSummary
		var market string
		if err := rows.Scan(&s.TaskID, &market, &s.Code, &s.Composite, &s.Recommendation, &s.AIModel, &s.CompletedAt); err != nil {
			return nil, err
		}
		s.Market = domain.Market(market)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes reports completed before cutoff and returns how
// many were deleted.
func (r *ReportRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "report-repo.delete-older-than")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM analysis_reports WHERE completed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
