package domain

import "time"

// EventKind classifies an event published for a task.
type EventKind string

const (
	EventProgress      EventKind = "PROGRESS"
	EventPartialResult EventKind = "PARTIAL_RESULT"
	EventToken         EventKind = "TOKEN"
	EventError         EventKind = "ERROR"
	EventDone          EventKind = "DONE"
	EventCancelled     EventKind = "CANCELLED"
)

// IsTerminal reports whether the event closes a task's stream. Terminal
// events are never dropped by the hub.
func (k EventKind) IsTerminal() bool {
	return k == EventDone || k == EventError || k == EventCancelled
}

// Event is the wire shape delivered to subscribers.
type Event struct {
	TaskID    string    `json:"task_id"`
	Seq       uint64    `json:"sequence_number"`
	Kind      EventKind `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is the payload of PROGRESS events.
type Progress struct {
	Stage    string    `json:"stage"`
	Percent  int       `json:"percent"`
	Message  string    `json:"message"`
	State    TaskState `json:"state,omitempty"`
	Degraded DataKind  `json:"degraded,omitempty"`
}

// PartialResult is the payload of PARTIAL_RESULT events.
type PartialResult struct {
	Section string `json:"section"`
	Data    any    `json:"data"`
}

// Token is the payload of TOKEN events.
type Token struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Failure is the payload of ERROR and CANCELLED events.
type Failure struct {
	State  TaskState `json:"state"`
	Reason string    `json:"reason"`
}
