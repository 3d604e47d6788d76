// Package app builds the analysis core from configuration. Every binary
// shares it: the HTTP server, the SSH front end and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"

	"stockpulse/internal/advisor"
	"stockpulse/internal/analysis"
	"stockpulse/internal/archive"
	"stockpulse/internal/cache"
	"stockpulse/internal/chain"
	"stockpulse/internal/config"
	"stockpulse/internal/db"
	"stockpulse/internal/events"
	"stockpulse/internal/fetcher"
	"stockpulse/internal/job"
	"stockpulse/internal/metrics"
	"stockpulse/internal/repository"
	"stockpulse/internal/scoring"
	"stockpulse/internal/sentiment"
	"stockpulse/pkg/tracing"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	sweepSchedule     = "@every 10m"
	retentionSchedule = "@daily"
	sentimentBatch    = 10
)

var (
	initPostgresFunc  = db.InitPostgres
	initRedisFunc     = cache.InitRedis
	initTracerFunc    = tracing.InitTracer
	loadProvidersFunc = config.LoadProviders
	newS3ArchiverFunc = archive.NewS3Archiver
)

// App is the wired analysis core.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Metrics

	Cache        *cache.Cache
	Hub          *events.Hub
	Tasks        *analysis.Manager
	Prices       *fetcher.PriceFetcher
	Fundamentals *fetcher.FundamentalFetcher
	News         *fetcher.NewsFetcher

	// Reports is nil when no database is configured.
	Reports *repository.ReportRepository
	// Archive is nil when no bucket is configured.
	Archive *archive.S3Archiver

	scheduler *job.Scheduler
	warmer    *job.WatchlistWarmer
	tp        *sdktrace.TracerProvider
}

// New connects the optional backends and builds the task manager.
// service names the binary in traces.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, service string) (*App, error) {
	a := &App{Config: cfg, Log: log}

	tp, tracer, err := initTracerFunc(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: service,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tp, a.Tracer = tp, tracer

	providers, err := loadProvidersFunc(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	overflow, err := events.ParseOverflow(cfg.EventOverflow)
	if err != nil {
		return nil, err
	}

	if err := initPostgresFunc(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	var history *repository.PriceHistoryRepository
	if db.Pool != nil {
		a.Reports = repository.NewReportRepository(db.Pool, tracer)
		history = repository.NewPriceHistoryRepository(db.Pool, tracer)
	}

	var store fetcher.Store
	if cfg.RedisEnabled {
		if err := initRedisFunc(ctx, cfg.RedisURL); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-memory cache only")
		} else if cache.Client != nil {
			store = cache.NewRedisStore(cache.Client)
		}
	}

	if cfg.S3Bucket != "" {
		arch, err := newS3ArchiverFunc(ctx, archive.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, tracer)
		if err != nil {
			log.Warn().Err(err).Msg("s3 archive disabled")
		} else {
			a.Archive = arch
		}
	}

	a.Metrics = metrics.New(metrics.NewRegistry())
	a.Cache = cache.New(cache.Options{MaxEntries: cfg.CacheMaxEntries, Logger: log, Observer: a.Metrics})
	a.Hub = events.NewHub(events.Options{
		BufferSize:  cfg.EventBufferSize,
		Overflow:    overflow,
		HistorySize: cfg.EventHistorySize,
		Logger:      log,
		Observer:    a.Metrics,
	})

	opts := fetcher.Options{
		Cache:          a.Cache,
		Store:          store,
		Runner:         chain.NewRunner(tracer, log, a.Metrics),
		Tracer:         tracer,
		Logger:         log,
		Scorer:         newScorer(cfg, providers, log),
		PriceTTL:       cfg.PriceTTL,
		FundamentalTTL: cfg.FundamentalTTL,
		NewsTTL:        cfg.NewsTTL,
		AttemptTimeout: cfg.FetchAttemptTimeout,
		NewsMaxItems:   cfg.NewsMaxItems,
	}
	var historyCap fetcher.PriceCapability
	if history != nil {
		opts.History = history
		historyCap = history
	}
	chains := BuildChains(providers, tracer, historyCap, log)
	a.Prices = fetcher.NewPriceFetcher(opts, chains.Price)
	a.Fundamentals = fetcher.NewFundamentalFetcher(opts, chains.Fundamental)
	a.News = fetcher.NewNewsFetcher(opts, chains.News)

	deps := analysis.Deps{
		Prices:       a.Prices,
		Fundamentals: a.Fundamentals,
		News:         a.News,
		Engine:       scoring.NewEngine(cfg.Weights()),
		Fallback:     advisor.NewTemplateStreamer(),
		Hub:          a.Hub,
		Recorder:     a.Metrics,
		Tracer:       tracer,
		Logger:       log,
	}
	if cfg.OpenAIAPIKey != "" {
		deps.AI = advisor.NewOpenAIStreamer(tracer, advisor.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			BaseURL:     cfg.OpenAIBaseURL,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
		})
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, reports use the offline template")
		deps.AI = deps.Fallback
	}
	if a.Reports != nil {
		deps.Sinks = append(deps.Sinks, a.Reports)
	}
	if a.Archive != nil {
		deps.Sinks = append(deps.Sinks, a.Archive)
	}
	a.Tasks = analysis.NewManager(analysis.Config{
		MaxConcurrent:     cfg.MaxConcurrentTasks,
		QueueSize:         cfg.TaskQueueSize,
		Retain:            cfg.TaskRetain,
		AITimeout:         cfg.AITimeout,
		PriceLookbackDays: cfg.PriceLookbackDays,
		NewsLookbackDays:  cfg.NewsLookbackDays,
	}, deps)

	a.scheduler = job.NewScheduler(log)
	if err := a.scheduler.AddJob(sweepSchedule, job.NewCacheSweepJob(a.Cache, log)); err != nil {
		return nil, fmt.Errorf("schedule cache sweep: %w", err)
	}
	if a.Reports != nil && cfg.ReportRetentionDays > 0 {
		if err := a.scheduler.AddJob(retentionSchedule, job.NewReportRetentionJob(a.Reports, cfg.ReportRetentionDays, log)); err != nil {
			return nil, fmt.Errorf("schedule report retention: %w", err)
		}
	}
	a.warmer = job.NewWatchlistWarmer(tracer, log, a.Prices, a.Fundamentals, cfg.Watchlist, cfg.WatchlistPoll, cfg.PriceLookbackDays)

	log.Info().
		Bool("postgres", a.Reports != nil).
		Bool("redis", store != nil).
		Bool("s3", a.Archive != nil).
		Int("max_concurrent", cfg.MaxConcurrentTasks).
		Msg("analysis core ready")
	return a, nil
}

// newScorer returns the keyword lexicon, blended with a model when one is
// enabled.
func newScorer(cfg *config.Config, p *config.Providers, log zerolog.Logger) fetcher.Scorer {
	lexicon := sentiment.NewLexicon(p.Lexicon.Positive, p.Lexicon.Negative)
	if !cfg.SentimentLLMEnabled {
		return lexicon
	}
	llm := sentiment.NewOpenAIScorer(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	if llm == nil {
		log.Warn().Msg("SENTIMENT_LLM_ENABLED without OPENAI_API_KEY, using lexicon only")
		return lexicon
	}
	return sentiment.NewBlended(lexicon, llm, sentimentBatch, log)
}

// Start runs the background jobs until ctx ends.
func (a *App) Start(ctx context.Context) {
	a.scheduler.Start()
	go a.warmer.Start(ctx)
}

// Shutdown cancels active tasks, stops the jobs and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task manager: %w", err))
	}
	a.scheduler.Stop()
	a.Hub.Close()
	if a.tp != nil {
		if err := a.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if cache.Client != nil {
		if err := cache.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	db.Close()
	return errors.Join(errs...)
}
