package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockpulse/internal/advisor"
	"stockpulse/internal/domain"
	"stockpulse/internal/events"
	"stockpulse/internal/fetcher"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	started chan struct{}
	release chan struct{}
	err     error
	once    sync.Once
}

func (f *fakePrices) Fetch(ctx context.Context, inst domain.Instrument, r domain.DateRange) (*domain.PriceSeries, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, 60)
	for i := range points {
		c := 100 + float64(i)
		points[i] = domain.PricePoint{Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return &domain.PriceSeries{Instrument: inst, Points: points, Provider: "yahoo"}, nil
}

type fakeFundamentals struct{ err error }

func (f *fakeFundamentals) Fetch(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Fundamentals{
		Instrument: inst,
		Indicators: map[string]float64{fetcher.IndicatorPE: 12, fetcher.IndicatorROE: 20},
		Provider:   "eastmoney",
	}, nil
}

type fakeNews struct{ err error }

func (f *fakeNews) Fetch(ctx context.Context, inst domain.Instrument, days int) (*domain.NewsRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.NewsRecord{
		Instrument: inst,
		Items:      []domain.NewsItem{{Headline: "record profit", Sentiment: 0.6, PublishedAt: time.Now()}},
		Provider:   "rss",
	}, nil
}

type fakeAI struct {
	name   string
	tokens []string
	err    error
	hang   bool
}

func (f *fakeAI) Name() string { return f.name }

func (f *fakeAI) Stream(ctx context.Context, p advisor.Prompt) (advisor.TokenStream, error) {
	if f.err != nil && len(f.tokens) == 0 {
		return nil, f.err
	}
	return &fakeStream{ai: f}, nil
}

type fakeStream struct {
	ai  *fakeAI
	pos int
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.ai.tokens) {
		if s.ai.hang {
			select {}
		}
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Current() string { return s.ai.tokens[s.pos-1] }
func (s *fakeStream) Err() error      { return s.ai.err }
func (s *fakeStream) Close() error    { return nil }

type recordingSink struct {
	mu      sync.Mutex
	reports []*domain.AnalysisReport
	err     error
}

func (s *recordingSink) SaveReport(ctx context.Context, r *domain.AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func newTestManager(t *testing.T, cfg Config, deps Deps) (*Manager, *events.Hub) {
	t.Helper()
	return newTestManagerWithHub(t, cfg, deps, events.Options{BufferSize: 1024, HistorySize: 1024})
}

func newTestManagerWithHub(t *testing.T, cfg Config, deps Deps, opts events.Options) (*Manager, *events.Hub) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	hub := events.NewHub(opts)
	if deps.Prices == nil {
		deps.Prices = &fakePrices{}
	}
	if deps.Fundamentals == nil {
		deps.Fundamentals = &fakeFundamentals{}
	}
	if deps.News == nil {
		deps.News = &fakeNews{}
	}
	if deps.AI == nil {
		deps.AI = &fakeAI{name: "fake", tokens: []string{"Hello", " ", "world"}}
	}
	deps.Hub = hub
	deps.Logger = zerolog.Nop()
	m := NewManager(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		hub.Close()
	})
	return m, hub
}

// collect reads events until a terminal event arrives.
func collect(t *testing.T, sub *events.Subscription) []domain.Event {
	t.Helper()
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "subscription closed early")
			out = append(out, ev)
			if ev.Kind.IsTerminal() {
				return out
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func assertGapless(t *testing.T, evs []domain.Event) {
	t.Helper()
	for i, ev := range evs {
		require.Equal(t, uint64(i+1), ev.Seq, "event %d", i)
	}
}

func progressStates(evs []domain.Event) []domain.TaskState {
	var states []domain.TaskState
	for _, ev := range evs {
		if p, ok := ev.Payload.(domain.Progress); ok {
			if len(states) == 0 || states[len(states)-1] != p.State {
				states = append(states, p.State)
			}
		}
	}
	return states
}

func TestTaskRunsToDone(t *testing.T) {
	sink := &recordingSink{}
	m, hub := newTestManager(t, Config{}, Deps{Sinks: []ReportSink{sink}})
	sub := hub.Subscribe("s1", "")

	task, err := m.Submit("600519", Options{SessionID: "s1"})
	require.NoError(t, err)
	evs := collect(t, sub)
	assertGapless(t, evs)

	last := evs[len(evs)-1]
	require.Equal(t, domain.EventDone, last.Kind)
	report := last.Payload.(*domain.AnalysisReport)
	assert.Equal(t, "Hello world", report.AIAnalysis)
	assert.Equal(t, "fake", report.AIModel)
	assert.Equal(t, "600519", report.Instrument.CanonicalCode)
	assert.Equal(t, "CNY", report.MarketInfo.Currency)
	assert.NotNil(t, report.Scores.Fundamental)
	assert.NotNil(t, report.Scores.Sentiment)
	assert.Empty(t, report.DataQuality.Degraded)

	assert.Equal(t, []domain.TaskState{domain.TaskFetching, domain.TaskScoring, domain.TaskStreaming}, progressStates(evs))

	var tokens []string
	sections := map[string]bool{}
	for _, ev := range evs {
		switch p := ev.Payload.(type) {
		case domain.Token:
			tokens = append(tokens, p.Text)
		case domain.PartialResult:
			sections[p.Section] = true
		}
	}
	assert.Equal(t, []string{"Hello", " ", "world"}, tokens)
	assert.True(t, sections[sectionPriceInfo] && sections[sectionScores] && sections[sectionDataQuality])

	info, err := m.Wait(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, info.State)
	require.NotNil(t, info.Report)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestPriceFailureFailsBeforeScoring(t *testing.T) {
	exhausted := &domain.ExhaustedError{Kind: domain.KindPrice, Failures: []domain.AttemptFailure{{Provider: "yahoo", Reason: "boom"}}}
	m, hub := newTestManager(t, Config{}, Deps{Prices: &fakePrices{err: exhausted}})
	sub := hub.Subscribe("s1", "")

	task, err := m.Submit("AAPL", Options{SessionID: "s1"})
	require.NoError(t, err)
	evs := collect(t, sub)

	last := evs[len(evs)-1]
	require.Equal(t, domain.EventError, last.Kind)
	assert.Contains(t, last.Payload.(domain.Failure).Reason, "price data unavailable")
	for _, st := range progressStates(evs) {
		assert.NotEqual(t, domain.TaskScoring, st)
	}
	state, err := m.Status(task.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, state)
}

func TestNewsExhaustionDegrades(t *testing.T) {
	exhausted := &domain.ExhaustedError{Kind: domain.KindNews}
	m, hub := newTestManager(t, Config{}, Deps{News: &fakeNews{err: exhausted}})
	sub := hub.Subscribe("s1", "")

	_, err := m.Submit("00700", Options{SessionID: "s1"})
	require.NoError(t, err)
	evs := collect(t, sub)

	last := evs[len(evs)-1]
	require.Equal(t, domain.EventDone, last.Kind)
	report := last.Payload.(*domain.AnalysisReport)
	assert.Nil(t, report.Scores.Sentiment)
	assert.True(t, report.DataQuality.IsDegraded(domain.KindNews))
	assert.Equal(t, unavailable, report.DataQuality.NewsProvider)

	var marked bool
	for _, ev := range evs {
		if p, ok := ev.Payload.(domain.Progress); ok && p.Degraded == domain.KindNews {
			marked = true
		}
	}
	assert.True(t, marked, "expected a PROGRESS event marking news as degraded")
}

func TestCancelDuringFetching(t *testing.T) {
	prices := &fakePrices{started: make(chan struct{}), release: make(chan struct{})}
	m, hub := newTestManager(t, Config{}, Deps{Prices: prices})
	sub := hub.Subscribe("s1", "")

	task, err := m.Submit("AAPL", Options{SessionID: "s1"})
	require.NoError(t, err)
	<-prices.started
	require.NoError(t, m.Cancel(task.ID()))
	evs := collect(t, sub)
	assert.Equal(t, domain.EventCancelled, evs[len(evs)-1].Kind)

	// The fetch ignores its context; its late result must not surface.
	close(prices.release)
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event after cancel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	state, _ := m.Status(task.ID())
	assert.Equal(t, domain.TaskCancelled, state)

	// Cancelling a finished task is a no-op.
	require.NoError(t, m.Cancel(task.ID()))
}

func TestAtCapacity(t *testing.T) {
	prices := &fakePrices{started: make(chan struct{}), release: make(chan struct{})}
	m, _ := newTestManager(t, Config{MaxConcurrent: 1}, Deps{Prices: prices})
	defer close(prices.release)

	first, err := m.Submit("AAPL", Options{})
	require.NoError(t, err)
	<-prices.started

	_, err = m.Submit("MSFT", Options{})
	require.ErrorIs(t, err, domain.ErrAtCapacity)

	require.NoError(t, m.Cancel(first.ID()))
	_, err = m.Submit("MSFT", Options{SkipAI: true})
	require.NoError(t, err)
}

func TestAITimeoutFails(t *testing.T) {
	ai := &fakeAI{name: "slow", tokens: []string{"partial"}, hang: true}
	m, hub := newTestManager(t, Config{AITimeout: 50 * time.Millisecond}, Deps{AI: ai})
	sub := hub.Subscribe("s1", "")

	_, err := m.Submit("AAPL", Options{SessionID: "s1"})
	require.NoError(t, err)
	evs := collect(t, sub)

	last := evs[len(evs)-1]
	require.Equal(t, domain.EventError, last.Kind)
	f := last.Payload.(domain.Failure)
	assert.Contains(t, f.Reason, domain.ErrCapabilityTimeout.Error())
	assert.Equal(t, domain.TaskStreaming, f.State)
}

func TestAIFailureUsesFallback(t *testing.T) {
	ai := &fakeAI{name: "broken", err: errors.New("401 unauthorized")}
	m, hub := newTestManager(t, Config{}, Deps{AI: ai, Fallback: advisor.NewTemplateStreamer()})
	sub := hub.Subscribe("s1", "")

	_, err := m.Submit("AAPL", Options{SessionID: "s1"})
	require.NoError(t, err)
	evs := collect(t, sub)

	report := evs[len(evs)-1].Payload.(*domain.AnalysisReport)
	assert.Equal(t, "template", report.AIModel)
	assert.Contains(t, report.AIAnalysis, "AAPL analysis")
}

func TestAIFailureAfterTokensFails(t *testing.T) {
	ai := &fakeAI{name: "flaky", tokens: []string{"half"}, err: errors.New("stream reset")}
	m, hub := newTestManager(t, Config{}, Deps{AI: ai, Fallback: advisor.NewTemplateStreamer()})
	sub := hub.Subscribe("s1", "")

	_, err := m.Submit("AAPL", Options{SessionID: "s1"})
	require.NoError(t, err)
	evs := collect(t, sub)
	assert.Equal(t, domain.EventError, evs[len(evs)-1].Kind)
}

func TestSkipAI(t *testing.T) {
	m, hub := newTestManager(t, Config{}, Deps{})
	sub := hub.Subscribe("s1", "")

	_, err := m.Submit("AAPL", Options{SessionID: "s1", SkipAI: true})
	require.NoError(t, err)
	evs := collect(t, sub)
	for _, ev := range evs {
		assert.NotEqual(t, domain.EventToken, ev.Kind)
	}
	assert.Equal(t, domain.EventDone, evs[len(evs)-1].Kind)
}

func TestSubmitRejectsInvalidIdentifier(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{})
	_, err := m.Submit("not a code", Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	assert.Zero(t, m.Stats().Active)
}

func TestSubmitBatch(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrent: 10}, Deps{})

	res, err := m.SubmitBatch([]string{"AAPL", "???", "600519"}, Options{SkipAI: true})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.NotEmpty(t, res[0].TaskID)
	assert.NotEmpty(t, res[1].Error)
	assert.Equal(t, "600519", res[2].Instrument.CanonicalCode)

	codes := make([]string, MaxBatch+1)
	for i := range codes {
		codes[i] = "AAPL"
	}
	_, err = m.SubmitBatch(codes, Options{})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestTasksAreEvictedAfterRetention(t *testing.T) {
	m, hub := newTestManager(t, Config{Retain: 20 * time.Millisecond}, Deps{})
	task, err := m.Submit("AAPL", Options{SkipAI: true})
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), task.ID())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := m.Snapshot(task.ID())
		return errors.Is(err, domain.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, hub.Replay(task.ID()))
}

func TestUnknownTask(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{})
	_, err := m.Status("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, m.Cancel("missing"), domain.ErrNotFound)
	_, err = m.Subscribe("s1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLateSubscriberReplays(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{})
	task, err := m.Submit("AAPL", Options{SessionID: "owner", SkipAI: true})
	require.NoError(t, err)
	_, err = m.Wait(context.Background(), task.ID())
	require.NoError(t, err)

	sub, err := m.Subscribe("viewer", task.ID())
	require.NoError(t, err)
	evs := collect(t, sub)
	assertGapless(t, evs)
	assert.Equal(t, domain.EventDone, evs[len(evs)-1].Kind)

	info, err := m.Snapshot(task.ID())
	require.NoError(t, err)
	assert.Contains(t, info.Subscribers, "viewer")
	assert.Len(t, m.List(), 1)
}

func TestShutdownCancelsActiveTasks(t *testing.T) {
	prices := &fakePrices{started: make(chan struct{}), release: make(chan struct{})}
	m, _ := newTestManager(t, Config{}, Deps{Prices: prices})
	task, err := m.Submit("AAPL", Options{})
	require.NoError(t, err)
	<-prices.started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(prices.release)
	}()
	require.NoError(t, m.Shutdown(context.Background()))
	state, _ := m.Status(task.ID())
	assert.Equal(t, domain.TaskCancelled, state)

	_, err = m.Submit("AAPL", Options{})
	assert.Error(t, err)
}

// stalledSession submits a task whose session subscriber never reads, so
// under the Block policy the runner ends up waiting inside a publish.
func stalledSession(t *testing.T) (*Manager, *Task) {
	t.Helper()
	m, hub := newTestManagerWithHub(t, Config{}, Deps{}, events.Options{BufferSize: 1, Overflow: events.Block, HistorySize: 64})
	hub.Subscribe("s1", "")

	task, err := m.Submit("AAPL", Options{SessionID: "s1"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.False(t, task.State().IsTerminal(), "runner should be held by the full buffer")
	return m, task
}

func TestCancelUnderBlockPolicy(t *testing.T) {
	m, task := stalledSession(t)

	cancelled := make(chan error, 1)
	go func() { cancelled <- m.Cancel(task.ID()) }()
	select {
	case err := <-cancelled:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("cancel still blocked; state=%s", task.State())
	}

	state, err := m.Status(task.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, state)
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task not done after cancel")
	}
}

func TestShutdownUnderBlockPolicy(t *testing.T) {
	m, task := stalledSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- m.Shutdown(ctx) }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown ignored its deadline; state=%s", task.State())
	}
	assert.Equal(t, domain.TaskCancelled, task.State())
}
