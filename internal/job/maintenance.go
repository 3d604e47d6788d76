package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Sweeper interface {
	Sweep() int
}

// CacheSweepJob drops expired cache entries that were never read again.
type CacheSweepJob struct {
	cache Sweeper
	log   zerolog.Logger
}

func NewCacheSweepJob(cache Sweeper, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{cache: cache, log: log}
}

func (j *CacheSweepJob) Name() string { return "cache-sweep" }

func (j *CacheSweepJob) Run(ctx context.Context) error {
	if n := j.cache.Sweep(); n > 0 {
		j.log.Info().Int("removed", n).Msg("cache swept")
	}
	return nil
}

type ReportPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportRetentionJob deletes persisted reports older than the retention
// window.
type ReportRetentionJob struct {
	reports ReportPruner
	days    int
	log     zerolog.Logger
	now     func() time.Time
}

func NewReportRetentionJob(reports ReportPruner, days int, log zerolog.Logger) *ReportRetentionJob {
	return &ReportRetentionJob{reports: reports, days: days, log: log, now: time.Now}
}

func (j *ReportRetentionJob) Name() string { return "report-retention" }

func (j *ReportRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	n, err := j.reports.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	j.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("old reports deleted")
	return nil
}
