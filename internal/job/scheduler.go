package job

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	timeout time.Duration
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		log:     log.With().Str("component", "scheduler").Logger(),
		timeout: 5 * time.Minute,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job under a cron spec such as "@every 10m" or "@daily".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.RunNow(job) })
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately with the scheduler's timeout.
func (s *Scheduler) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Debug().Str("job", job.Name()).Msg("running job")
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return err
	}
	s.log.Debug().Str("job", job.Name()).Msg("job completed")
	return nil
}
