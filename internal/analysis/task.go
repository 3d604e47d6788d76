// Package analysis runs analysis tasks through their state machine and
// bounds how many run at once.
package analysis

import (
	"context"
	"sync"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/events"

	"github.com/rs/zerolog"
)

// Options are the per-submission knobs.
type Options struct {
	SessionID         string `json:"session_id"`
	PriceLookbackDays int    `json:"price_days"`
	NewsLookbackDays  int    `json:"news_days"`
	SkipAI            bool   `json:"skip_ai"`
}

// Task is one analysis request. Its state only moves along the edges
// allowed by domain.CanTransition. All events for the task go through
// emit or finish so nothing is published after a terminal event.
type Task struct {
	id        string
	inst      domain.Instrument
	opts      Options
	createdAt time.Time

	hub *events.Hub
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// emitCtx is done once a terminal transition starts, so a publish
	// waiting on a full subscriber gives way to it.
	emitCtx  context.Context
	stopEmit context.CancelFunc

	// pub orders publishes against terminal transitions.
	pub sync.Mutex

	mu         sync.Mutex
	state      domain.TaskState
	startedAt  *time.Time
	finishedAt *time.Time
	errMsg     string
	report     *domain.AnalysisReport
	onFinish   func(*Task, domain.TaskState)
}

func newTask(id string, inst domain.Instrument, opts Options, hub *events.Hub, log zerolog.Logger, now time.Time) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	emitCtx, stopEmit := context.WithCancel(ctx)
	return &Task{
		id:        id,
		inst:      inst,
		opts:      opts,
		createdAt: now,
		hub:       hub,
		log:       log.With().Str("task_id", id).Str("code", inst.CanonicalCode).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		emitCtx:   emitCtx,
		stopEmit:  stopEmit,
		done:      make(chan struct{}),
		state:     domain.TaskQueued,
	}
}

func (t *Task) ID() string                    { return t.id }
func (t *Task) Instrument() domain.Instrument { return t.inst }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) State() domain.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// advance moves the task forward. It reports false when the move is not
// allowed, which after a cancel is the normal way a worker learns to stop.
func (t *Task) advance(to domain.TaskState) bool {
	t.mu.Lock()
	from := t.state
	if !domain.CanTransition(from, to) {
		t.mu.Unlock()
		return false
	}
	t.state = to
	if from == domain.TaskQueued {
		now := time.Now().UTC()
		t.startedAt = &now
	}
	t.mu.Unlock()

	t.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("task transition")
	return true
}

// emit publishes a non-terminal event unless the task already finished.
func (t *Task) emit(kind domain.EventKind, payload any) bool {
	t.pub.Lock()
	defer t.pub.Unlock()
	if t.State().IsTerminal() {
		return false
	}
	t.hub.PublishContext(t.emitCtx, t.id, kind, payload)
	return true
}

func (t *Task) progress(stage string, percent int, message string) {
	t.emit(domain.EventProgress, domain.Progress{Stage: stage, Percent: percent, Message: message, State: t.State()})
}

func (t *Task) partial(section string, data any) {
	t.emit(domain.EventPartialResult, domain.PartialResult{Section: section, Data: data})
}

// finish moves the task to a terminal state and publishes the matching
// terminal event as the task's last event. Only the first call wins.
func (t *Task) finish(to domain.TaskState, kind domain.EventKind, payload any, report *domain.AnalysisReport, reason string) bool {
	if t.State().IsTerminal() {
		return false
	}
	t.stopEmit()
	t.pub.Lock()
	t.mu.Lock()
	from := t.state
	if !domain.CanTransition(from, to) {
		t.mu.Unlock()
		t.pub.Unlock()
		return false
	}
	now := time.Now().UTC()
	t.state = to
	t.finishedAt = &now
	t.errMsg = reason
	t.report = report
	onFinish := t.onFinish
	t.mu.Unlock()

	t.hub.Publish(t.id, kind, payload)
	t.pub.Unlock()

	ev := t.log.Info()
	if to == domain.TaskFailed {
		ev = t.log.Warn().Str("reason", reason)
	}
	ev.Str("from", string(from)).Str("to", string(to)).Msg("task transition")

	close(t.done)
	if onFinish != nil {
		onFinish(t, to)
	}
	return true
}

func (t *Task) fail(reason string) bool {
	return t.finish(domain.TaskFailed, domain.EventError, domain.Failure{State: t.State(), Reason: reason}, nil, reason)
}

// Cancel stops the task. Upstream calls see a cancelled context; calls
// that ignore it run to completion and their results are discarded.
func (t *Task) Cancel(reason string) bool {
	if reason == "" {
		reason = domain.ErrCancelledByClient.Error()
	}
	ok := t.finish(domain.TaskCancelled, domain.EventCancelled, domain.Failure{State: t.State(), Reason: reason}, nil, reason)
	t.cancel()
	return ok
}

// Info is the externally visible snapshot of the task.
func (t *Task) Info() domain.TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := domain.TaskInfo{
		ID:          t.id,
		Instrument:  t.inst,
		State:       t.state,
		SessionID:   t.opts.SessionID,
		Subscribers: t.hub.Subscribers(t.id),
		CreatedAt:   t.createdAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
		Error:       t.errMsg,
	}
	if t.state == domain.TaskDone {
		info.Report = t.report
	}
	return info
}
