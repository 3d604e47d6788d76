package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stockpulse/internal/advisor"
	"stockpulse/internal/domain"
	"stockpulse/internal/events"
	"stockpulse/internal/normalizer"
	"stockpulse/internal/scoring"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// MaxBatch is the most codes accepted by one batch submission.
const MaxBatch = 10

var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d codes", MaxBatch)

// PriceSource, FundamentalSource and NewsSource are the fetchers a task
// draws on.
type PriceSource interface {
	Fetch(ctx context.Context, inst domain.Instrument, r domain.DateRange) (*domain.PriceSeries, error)
}

type FundamentalSource interface {
	Fetch(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error)
}

type NewsSource interface {
	Fetch(ctx context.Context, inst domain.Instrument, lookbackDays int) (*domain.NewsRecord, error)
}

// ReportSink persists completed reports.
type ReportSink interface {
	SaveReport(ctx context.Context, report *domain.AnalysisReport) error
}

// Recorder receives task lifecycle counts for metrics.
type Recorder interface {
	TaskStarted()
	TaskStopped()
	TaskFinished(outcome string)
	TaskRejected(reason string)
}

// Config holds the manager's limits and defaults.
type Config struct {
	MaxConcurrent     int
	QueueSize         int
	Retain            time.Duration
	AITimeout         time.Duration
	PriceLookbackDays int
	NewsLookbackDays  int
}

// Deps are the collaborators shared by every task.
type Deps struct {
	Prices       PriceSource
	Fundamentals FundamentalSource
	News         NewsSource
	Engine       *scoring.Engine
	AI           advisor.AICapability
	// Fallback streams the report when AI fails before its first token.
	Fallback advisor.AICapability
	Hub      *events.Hub
	Sinks    []ReportSink
	Recorder Recorder
	Tracer   trace.Tracer
	Logger   zerolog.Logger
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Active        int `json:"active"`
	Running       int `json:"running"`
	Retained      int `json:"retained"`
	MaxConcurrent int `json:"max_concurrent"`
	QueueSize     int `json:"queue_size"`
}

// BatchResult is the outcome of one code in a batch submission.
type BatchResult struct {
	Code       string             `json:"code"`
	TaskID     string             `json:"task_id,omitempty"`
	Instrument *domain.Instrument `json:"instrument,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Manager owns every task from submission until eviction.
type Manager struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	tasks   map[string]*Task
	active  int
	running int
	closed  bool
}

func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 5 * time.Minute
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 2 * time.Minute
	}
	if cfg.PriceLookbackDays <= 0 {
		cfg.PriceLookbackDays = 180
	}
	if cfg.NewsLookbackDays <= 0 {
		cfg.NewsLookbackDays = 15
	}
	if deps.Engine == nil {
		deps.Engine = scoring.NewEngine(scoring.DefaultWeights)
	}
	if deps.AI == nil {
		deps.AI = advisor.NewTemplateStreamer()
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub(events.Options{Logger: deps.Logger})
	}
	if deps.Tracer == nil {
		deps.Tracer = trace.NewNoopTracerProvider().Tracer("analysis")
	}
	return &Manager{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.With().Str("component", "task_manager").Logger(),
		slots: make(chan struct{}, cfg.MaxConcurrent),
		now:   time.Now,
		newID: uuid.NewString,
		tasks: make(map[string]*Task),
	}
}

// Submit normalizes raw and starts a task for it. It fails with
// ErrInvalidIdentifier for unknown code shapes and ErrAtCapacity when the
// concurrency ceiling plus queue is full.
func (m *Manager) Submit(raw string, opts Options) (*Task, error) {
	inst, err := normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.PriceLookbackDays <= 0 {
		opts.PriceLookbackDays = m.cfg.PriceLookbackDays
	}
	if opts.NewsLookbackDays <= 0 {
		opts.NewsLookbackDays = m.cfg.NewsLookbackDays
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("task manager closed: %w", domain.ErrAtCapacity)
	}
	if m.active >= m.cfg.MaxConcurrent+m.cfg.QueueSize {
		m.mu.Unlock()
		m.recorder().TaskRejected("at_capacity")
		return nil, domain.ErrAtCapacity
	}
	t := newTask(m.newID(), inst, opts, m.deps.Hub, m.log, m.now().UTC())
	t.onFinish = m.finished
	m.tasks[t.id] = t
	m.active++
	m.wg.Add(1)
	m.mu.Unlock()

	m.deps.Hub.Register(t.id, opts.SessionID)
	m.log.Info().
		Str("task_id", t.id).
		Str("code", inst.CanonicalCode).
		Str("market", string(inst.Market)).
		Str("session_id", opts.SessionID).
		Msg("task submitted")

	go m.work(t)
	return t, nil
}

// SubmitBatch starts one independent task per code.
func (m *Manager) SubmitBatch(raws []string, opts Options) ([]BatchResult, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("no codes: %w", domain.ErrInvalidIdentifier)
	}
	if len(raws) > MaxBatch {
		return nil, ErrBatchTooLarge
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	out := make([]BatchResult, 0, len(raws))
	for _, raw := range raws {
		res := BatchResult{Code: raw}
		t, err := m.Submit(raw, opts)
		if err != nil {
			res.Error = err.Error()
		} else {
			inst := t.Instrument()
			res.TaskID = t.ID()
			res.Instrument = &inst
		}
		out = append(out, res)
	}
	return out, nil
}

func (m *Manager) work(t *Task) {
	defer m.wg.Done()

	select {
	case m.slots <- struct{}{}:
	case <-t.ctx.Done():
		return
	}
	m.mu.Lock()
	m.running++
	m.mu.Unlock()
	m.recorder().TaskStarted()
	defer func() {
		<-m.slots
		m.recorder().TaskStopped()
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	m.run(t)
}

// finished runs once per task on its terminal transition.
func (m *Manager) finished(t *Task, state domain.TaskState) {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
	m.recorder().TaskFinished(string(state))

	time.AfterFunc(m.cfg.Retain, func() { m.evict(t.id) })
}

func (m *Manager) evict(id string) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
	m.deps.Hub.Forget(id)
	m.log.Debug().Str("task_id", id).Msg("task evicted")
}

func (m *Manager) get(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Cancel moves an active task to CANCELLED. It is a no-op for tasks that
// already finished.
func (m *Manager) Cancel(id string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	if t.Cancel("") {
		m.log.Info().Str("task_id", id).Msg("task cancelled by client")
	}
	return nil
}

func (m *Manager) Status(id string) (domain.TaskState, error) {
	t, err := m.get(id)
	if err != nil {
		return "", err
	}
	return t.State(), nil
}

func (m *Manager) Snapshot(id string) (domain.TaskInfo, error) {
	t, err := m.get(id)
	if err != nil {
		return domain.TaskInfo{}, err
	}
	return t.Info(), nil
}

// List returns every retained task, oldest first.
func (m *Manager) List() []domain.TaskInfo {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	out := make([]domain.TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Subscribe opens the session's event channel. A task id, when given,
// must name a retained task.
func (m *Manager) Subscribe(sessionID, taskID string) (*events.Subscription, error) {
	if taskID != "" {
		if _, err := m.get(taskID); err != nil {
			return nil, err
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return m.deps.Hub.Subscribe(sessionID, taskID), nil
}

// Wait blocks until the task finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (domain.TaskInfo, error) {
	t, err := m.get(id)
	if err != nil {
		return domain.TaskInfo{}, err
	}
	select {
	case <-t.Done():
		return t.Info(), nil
	case <-ctx.Done():
		return t.Info(), ctx.Err()
	}
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:        m.active,
		Running:       m.running,
		Retained:      len(m.tasks),
		MaxConcurrent: m.cfg.MaxConcurrent,
		QueueSize:     m.cfg.QueueSize,
	}
}

// Shutdown rejects new work, cancels every active task and waits for the
// workers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, t := range tasks {
			t.Cancel("server shutting down")
		}
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("workers still running"), ctx.Err())
	}
}

func (m *Manager) recorder() Recorder {
	if m.deps.Recorder == nil {
		return nopRecorder{}
	}
	return m.deps.Recorder
}

type nopRecorder struct{}

func (nopRecorder) TaskStarted()        {}
func (nopRecorder) TaskStopped()        {}
func (nopRecorder) TaskFinished(string) {}
func (nopRecorder) TaskRejected(string) {}
