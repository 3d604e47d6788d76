package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockpulse/internal/advisor"
	"stockpulse/internal/domain"
	"stockpulse/internal/normalizer"
	"stockpulse/internal/scoring"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	sectionPriceInfo   = "price_info"
	sectionScores      = "scores"
	sectionDataQuality = "data_quality"

	unavailable = "unavailable"
	sinkTimeout = 10 * time.Second
)

// gathered is what the FETCHING stage produced.
type gathered struct {
	prices       *domain.PriceSeries
	fundamentals *domain.Fundamentals
	news         *domain.NewsRecord
	quality      domain.DataQuality
}

func (m *Manager) run(t *Task) {
	ctx, span := m.deps.Tracer.Start(t.ctx, "analysis.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", t.id),
		attribute.String("instrument.code", t.inst.CanonicalCode),
		attribute.String("instrument.market", string(t.inst.Market)),
	)

	if !t.advance(domain.TaskFetching) {
		return
	}
	t.progress("fetching", 5, fmt.Sprintf("fetching data for %s", t.inst.CanonicalCode))

	g, err := m.fetch(ctx, t)
	if err != nil {
		if ctx.Err() == nil {
			span.SetStatus(codes.Error, err.Error())
			t.fail(fmt.Sprintf("price data unavailable: %v", err))
		}
		return
	}
	t.partial(sectionDataQuality, g.quality)

	if !t.advance(domain.TaskScoring) {
		return
	}
	t.progress("scoring", 65, "computing indicators and scores")
	res := m.deps.Engine.Score(scoring.Input{Prices: g.prices, Fundamentals: g.fundamentals, News: g.news})
	t.partial(sectionPriceInfo, res.PriceInfo)
	t.partial(sectionScores, map[string]any{
		"scores":    res.Scores,
		"technical": res.Technical,
		"news":      res.News,
	})

	report := m.assemble(t, g, res)
	if !t.advance(domain.TaskStreaming) {
		return
	}

	if !t.opts.SkipAI {
		t.progress("ai", 80, "generating analysis")
		text, model, err := m.stream(ctx, t, report)
		if err != nil {
			if ctx.Err() == nil {
				span.SetStatus(codes.Error, err.Error())
				t.fail(err.Error())
			}
			return
		}
		report.AIAnalysis, report.AIModel = text, model
		t.progress("ai", 90, "analysis generated")
	}

	report.CompletedAt = m.now().UTC()
	t.progress("done", 100, "analysis complete")
	if t.finish(domain.TaskDone, domain.EventDone, report, report, "") {
		m.persist(report)
	}
}

// fetch runs the three fetchers concurrently. A price failure aborts the
// others; fundamental and news failures degrade to records marked
// unavailable.
func (m *Manager) fetch(ctx context.Context, t *Task) (gathered, error) {
	ctx, span := m.deps.Tracer.Start(ctx, "analysis.fetch")
	defer span.End()

	var (
		g   gathered
		mu  sync.Mutex
		pct = []int{15, 25, 45}
	)
	g.quality.Failures = map[domain.DataKind][]domain.AttemptFailure{}
	step := func(stage, message string, degraded domain.DataKind) {
		mu.Lock()
		p := pct[0]
		pct = pct[1:]
		mu.Unlock()
		t.emit(domain.EventProgress, domain.Progress{
			Stage: stage, Percent: p, Message: message, State: domain.TaskFetching, Degraded: degraded,
		})
	}
	recordFailures := func(kind domain.DataKind, err error) {
		var ex *domain.ExhaustedError
		if errors.As(err, &ex) {
			mu.Lock()
			g.quality.Failures[kind] = ex.Failures
			mu.Unlock()
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		r := domain.LastDays(m.now(), t.opts.PriceLookbackDays)
		series, err := m.deps.Prices.Fetch(gctx, t.inst, r)
		if err != nil {
			recordFailures(domain.KindPrice, err)
			return err
		}
		g.prices = series
		step("price", fmt.Sprintf("%d price points from %s", len(series.Points), series.Provider), "")
		return nil
	})
	eg.Go(func() error {
		f, err := m.deps.Fundamentals.Fetch(gctx, t.inst)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			recordFailures(domain.KindFundamental, err)
			t.log.Warn().Err(err).Msg("fundamental data degraded")
			f = &domain.Fundamentals{Instrument: t.inst, Unavailable: true, Reason: err.Error()}
			g.fundamentals = f
			step("fundamental", "fundamental data unavailable", domain.KindFundamental)
			return nil
		}
		g.fundamentals = f
		step("fundamental", fmt.Sprintf("%d indicators from %s", len(f.Indicators), f.Provider), "")
		return nil
	})
	eg.Go(func() error {
		n, err := m.deps.News.Fetch(gctx, t.inst, t.opts.NewsLookbackDays)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			recordFailures(domain.KindNews, err)
			t.log.Warn().Err(err).Msg("news data degraded")
			g.news = &domain.NewsRecord{Instrument: t.inst, Unavailable: true, Reason: err.Error()}
			step("news", "news data unavailable", domain.KindNews)
			return nil
		}
		g.news = n
		step("news", fmt.Sprintf("%d news items from %s", len(n.Items), n.Provider), "")
		return nil
	})
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		return g, err
	}

	q := &g.quality
	q.PriceProvider = g.prices.Provider
	q.PricePoints = len(g.prices.Points)
	q.FundamentalProvider = g.fundamentals.Provider
	if g.fundamentals.Unavailable {
		q.FundamentalProvider = unavailable
		q.Degraded = append(q.Degraded, domain.KindFundamental)
	}
	q.NewsProvider = g.news.Provider
	q.NewsItems = len(g.news.Items)
	if g.news.Unavailable {
		q.NewsProvider = unavailable
		q.Degraded = append(q.Degraded, domain.KindNews)
	}
	if len(q.Failures) == 0 {
		q.Failures = nil
	}
	return g, nil
}

func (m *Manager) assemble(t *Task, g gathered, res scoring.Result) *domain.AnalysisReport {
	r := &domain.AnalysisReport{
		TaskID:      t.id,
		Instrument:  t.inst,
		MarketInfo:  normalizer.Info(t.inst.Market),
		PriceInfo:   res.PriceInfo,
		Technical:   res.Technical,
		News:        res.News,
		Scores:      res.Scores,
		DataQuality: g.quality,
		CreatedAt:   t.createdAt,
	}
	if !g.fundamentals.Unavailable {
		r.Fundamentals = g.fundamentals.Indicators
	}
	return r
}

// stream forwards AI tokens as TOKEN events. The whole stream is bounded by
// the AI timeout even when the capability ignores its context.
func (m *Manager) stream(ctx context.Context, t *Task, report *domain.AnalysisReport) (string, string, error) {
	ctx, span := m.deps.Tracer.Start(ctx, "analysis.stream")
	defer span.End()

	prompt := advisor.BuildPrompt(advisor.PromptData{
		Instrument:   report.Instrument,
		MarketInfo:   report.MarketInfo,
		PriceInfo:    report.PriceInfo,
		Technical:    report.Technical,
		Fundamentals: report.Fundamentals,
		News:         report.News,
		Scores:       report.Scores,
		Degraded:     report.DataQuality.Degraded,
		AsOf:         m.now().UTC(),
	})

	text, tokens, err := m.streamFrom(ctx, t, m.deps.AI, prompt)
	if err == nil {
		return text, m.deps.AI.Name(), nil
	}
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	if errors.Is(err, domain.ErrCapabilityTimeout) || tokens > 0 || m.deps.Fallback == nil {
		span.RecordError(err)
		return "", "", err
	}

	t.log.Warn().Err(err).Str("fallback", m.deps.Fallback.Name()).Msg("ai capability failed, using fallback")
	text, _, err = m.streamFrom(ctx, t, m.deps.Fallback, prompt)
	if err != nil {
		span.RecordError(err)
		return "", "", err
	}
	return text, m.deps.Fallback.Name(), nil
}

func (m *Manager) streamFrom(ctx context.Context, t *Task, ai advisor.AICapability, prompt advisor.Prompt) (string, int, error) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AITimeout)
	defer cancel()

	timedOut := func() error {
		return fmt.Errorf("ai analysis exceeded %s: %w", m.cfg.AITimeout, domain.ErrCapabilityTimeout)
	}

	ts, err := ai.Stream(actx, prompt)
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return "", 0, timedOut()
		}
		return "", 0, fmt.Errorf("ai capability %s: %w", ai.Name(), err)
	}

	tokens := make(chan string)
	result := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer ts.Close()
		for ts.Next() {
			select {
			case tokens <- ts.Current():
			case <-actx.Done():
				result <- actx.Err()
				return
			}
		}
		result <- ts.Err()
	}()

	var sb strings.Builder
	n := 0
	for {
		select {
		case tok, ok := <-tokens:
			if !ok {
				if err := <-result; err != nil {
					if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
						return "", n, timedOut()
					}
					return "", n, fmt.Errorf("ai capability %s: %w", ai.Name(), err)
				}
				return sb.String(), n, nil
			}
			sb.WriteString(tok)
			t.emit(domain.EventToken, domain.Token{Text: tok, Index: n})
			n++
		case <-actx.Done():
			if ctx.Err() != nil {
				return "", n, ctx.Err()
			}
			return "", n, timedOut()
		}
	}
}

// persist hands a DONE report to every sink. Sink failures are logged only.
func (m *Manager) persist(report *domain.AnalysisReport) {
	if len(m.deps.Sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for _, sink := range m.deps.Sinks {
		if err := sink.SaveReport(ctx, report); err != nil {
			m.log.Error().Err(err).Str("task_id", report.TaskID).Msg("failed to persist report")
		}
	}
}
