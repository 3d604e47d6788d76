package events

import (
	"context"
	"sync"

	"stockpulse/internal/domain"
)

// Subscription is one session's ordered event channel. Events are queued
// in a bounded buffer and pumped to C by a dedicated goroutine so a slow
// reader never holds up the hub lock.
type Subscription struct {
	hub       *Hub
	sessionID string
	taskID    string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.Event
	closed bool
	done   chan struct{}
	out    chan domain.Event
}

func newSubscription(h *Hub, sessionID, taskID string) *Subscription {
	s := &Subscription{
		hub:       h,
		sessionID: sessionID,
		taskID:    taskID,
		done:      make(chan struct{}),
		out:       make(chan domain.Event),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C delivers events in publish order. It is closed when the subscription
// is released or replaced.
func (s *Subscription) C() <-chan domain.Event { return s.out }

func (s *Subscription) SessionID() string { return s.sessionID }
func (s *Subscription) TaskID() string    { return s.taskID }

// Close releases the subscription if it is still the session's current one.
func (s *Subscription) Close() { s.hub.release(s) }

func (s *Subscription) observes(taskID, owner string) bool {
	if s.taskID != "" {
		return s.taskID == taskID
	}
	return owner != "" && owner == s.sessionID
}

// enqueue queues ev for the reader. Under Block a non-terminal event waits
// for room until the subscription closes or ctx is done, in which case it
// is dropped. Terminal events never wait.
func (s *Subscription) enqueue(ctx context.Context, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	limit := s.hub.bufferSize
	switch {
	case len(s.queue) < limit:
	case s.hub.overflow != Block:
		s.dropOldestLocked()
	case ev.Kind.IsTerminal():
	default:
		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		for len(s.queue) >= limit && !s.closed && ctx.Err() == nil {
			s.cond.Wait()
		}
		stop()
		if s.closed {
			return
		}
		if len(s.queue) >= limit {
			s.hub.recordDrop(s, ev)
			return
		}
	}
	s.queue = append(s.queue, ev)
	s.cond.Broadcast()
}

// preload queues replayed history ahead of live events. It ignores the
// buffer limit because the reader has not been handed the channel yet.
func (s *Subscription) preload(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, events...)
	s.cond.Broadcast()
}

// dropOldestLocked removes the oldest non-terminal event. Terminal events
// are kept even if that leaves the queue over its limit.
func (s *Subscription) dropOldestLocked() {
	for i, ev := range s.queue {
		if ev.Kind.IsTerminal() {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.hub.recordDrop(s, ev)
		return
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.cond.Broadcast()
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	s.cond.Broadcast()
}
