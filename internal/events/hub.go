// Package events fans task events out to session subscribers.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stockpulse/internal/domain"

	"github.com/rs/zerolog"
)

// Overflow decides what happens when a subscriber's buffer is full.
type Overflow string

const (
	// DropOldest discards the oldest queued non-terminal event.
	DropOldest Overflow = "drop_oldest"
	// Block makes the publisher wait for the subscriber to catch up.
	Block Overflow = "block"
)

// ParseOverflow maps a config value onto a policy.
func ParseOverflow(v string) (Overflow, error) {
	switch Overflow(v) {
	case "", DropOldest:
		return DropOldest, nil
	case Block:
		return Block, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", v)
	}
}

// Observer receives hub activity for metrics.
type Observer interface {
	EventPublished(kind string)
	EventDropped()
}

// Options configures a Hub.
type Options struct {
	BufferSize  int
	Overflow    Overflow
	HistorySize int
	Logger      zerolog.Logger
	Observer    Observer
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Topics      int    `json:"topics"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// topic holds the per-task sequence counter and replay history. pub
// serializes publishes for the task so every subscriber sees its events in
// sequence order. Once full, history is a ring whose oldest entry sits at
// head.
type topic struct {
	pub     sync.Mutex
	owner   string
	seq     uint64
	history []domain.Event
	head    int
}

func (t *topic) record(ev domain.Event, limit int) {
	if len(t.history) < limit {
		t.history = append(t.history, ev)
		return
	}
	t.history[t.head] = ev
	t.head = (t.head + 1) % limit
}

// replay returns the retained history oldest first.
func (t *topic) replay() []domain.Event {
	out := make([]domain.Event, 0, len(t.history))
	out = append(out, t.history[t.head:]...)
	return append(out, t.history[:t.head]...)
}

// Hub is the only path from tasks to client-facing channels.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	subs   map[string]*Subscription

	bufferSize  int
	overflow    Overflow
	historySize int
	log         zerolog.Logger
	observer    Observer
	now         func() time.Time

	published, dropped atomic.Uint64
}

func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.Overflow == "" {
		opts.Overflow = DropOldest
	}
	if opts.HistorySize < 0 {
		opts.HistorySize = 0
	}
	return &Hub{
		topics:      make(map[string]*topic),
		subs:        make(map[string]*Subscription),
		bufferSize:  opts.BufferSize,
		overflow:    opts.Overflow,
		historySize: opts.HistorySize,
		log:         opts.Logger.With().Str("component", "event_hub").Logger(),
		observer:    opts.Observer,
		now:         time.Now,
	}
}

// Register records which session owns a task. Session-wide subscriptions
// receive events for every task their session owns.
func (h *Hub) Register(taskID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topicLocked(taskID).owner = sessionID
}

func (h *Hub) topicLocked(taskID string) *topic {
	t, ok := h.topics[taskID]
	if !ok {
		t = &topic{}
		h.topics[taskID] = t
	}
	return t
}

// Publish assigns the next sequence number for the task and queues the
// event on every subscription observing it.
func (h *Hub) Publish(taskID string, kind domain.EventKind, payload any) domain.Event {
	return h.PublishContext(context.Background(), taskID, kind, payload)
}

// PublishContext is Publish for a publisher that can be cancelled. Under
// the Block policy a non-terminal event stops waiting for a full
// subscriber once ctx is done and is dropped for that subscriber.
func (h *Hub) PublishContext(ctx context.Context, taskID string, kind domain.EventKind, payload any) domain.Event {
	h.mu.Lock()
	t := h.topicLocked(taskID)
	h.mu.Unlock()

	t.pub.Lock()
	defer t.pub.Unlock()

	h.mu.Lock()
	t.seq++
	ev := domain.Event{TaskID: taskID, Seq: t.seq, Kind: kind, Payload: payload, Timestamp: h.now().UTC()}
	if h.historySize > 0 {
		t.record(ev, h.historySize)
	}
	targets := make([]*Subscription, 0, 2)
	for _, s := range h.subs {
		if s.observes(taskID, t.owner) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	h.published.Add(1)
	if h.observer != nil {
		h.observer.EventPublished(string(kind))
	}
	for _, s := range targets {
		s.enqueue(ctx, ev)
	}
	return ev
}

// Subscribe opens the session's channel, replacing any previous one. With
// a task id the subscription first receives the task's retained history
// and then its live events; without one it receives live events for every
// task owned by the session.
func (h *Hub) Subscribe(sessionID, taskID string) *Subscription {
	s := newSubscription(h, sessionID, taskID)

	var t *topic
	if taskID != "" {
		h.mu.Lock()
		t = h.topicLocked(taskID)
		h.mu.Unlock()
		// Hold the publish lock so no event lands between replay and
		// registration.
		t.pub.Lock()
		defer t.pub.Unlock()
	}

	h.mu.Lock()
	prev := h.subs[sessionID]
	h.subs[sessionID] = s
	var replay []domain.Event
	if t != nil {
		replay = t.replay()
	}
	h.mu.Unlock()

	if prev != nil {
		prev.close()
		h.log.Debug().Str("session_id", sessionID).Msg("subscription replaced")
	}
	s.preload(replay)
	h.log.Debug().
		Str("session_id", sessionID).
		Str("task_id", taskID).
		Int("replayed", len(replay)).
		Msg("subscribed")
	return s
}

// Unsubscribe releases the session's channel.
func (h *Hub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	s := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()
	if s != nil {
		s.close()
	}
}

func (h *Hub) release(s *Subscription) {
	h.mu.Lock()
	if h.subs[s.sessionID] == s {
		delete(h.subs, s.sessionID)
	}
	h.mu.Unlock()
	s.close()
}

// Subscribers lists the sessions currently observing a task.
func (h *Hub) Subscribers(taskID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner := ""
	if t, ok := h.topics[taskID]; ok {
		owner = t.owner
	}
	var out []string
	for id, s := range h.subs {
		if s.observes(taskID, owner) {
			out = append(out, id)
		}
	}
	return out
}

// Forget drops a task's sequence counter and history.
func (h *Hub) Forget(taskID string) {
	h.mu.Lock()
	delete(h.topics, taskID)
	h.mu.Unlock()
}

// Replay returns the retained history of a task.
func (h *Hub) Replay(taskID string) []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[taskID]
	if !ok {
		return nil
	}
	return t.replay()
}

// Close releases every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Subscribers: len(h.subs),
		Topics:      len(h.topics),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

func (h *Hub) recordDrop(s *Subscription, ev domain.Event) {
	h.dropped.Add(1)
	if h.observer != nil {
		h.observer.EventDropped()
	}
	h.log.Warn().
		Str("session_id", s.sessionID).
		Str("task_id", ev.TaskID).
		Uint64("seq", ev.Seq).
		Str("kind", string(ev.Kind)).
		Msg("subscriber buffer full, event dropped")
}
