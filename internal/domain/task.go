package domain

import "time"

// TaskState is the lifecycle state of an analysis task.
type TaskState string

const (
	TaskQueued    TaskState = "QUEUED"
	TaskFetching  TaskState = "FETCHING"
	TaskScoring   TaskState = "SCORING"
	TaskStreaming TaskState = "STREAMING"
	TaskDone      TaskState = "DONE"
	TaskFailed    TaskState = "FAILED"
	TaskCancelled TaskState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCancelled
}

var forwardTransitions = map[TaskState]TaskState{
	TaskQueued:    TaskFetching,
	TaskFetching:  TaskScoring,
	TaskScoring:   TaskStreaming,
	TaskStreaming: TaskDone,
}

// CanTransition reports whether from -> to is a legal edge of the state machine.
// Any non-terminal state may move to FAILED or CANCELLED.
func CanTransition(from, to TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == TaskFailed || to == TaskCancelled {
		return true
	}
	return forwardTransitions[from] == to
}

// TaskInfo is the externally visible snapshot of a task.
type TaskInfo struct {
	ID          string          `json:"id"`
	Instrument  Instrument      `json:"instrument"`
	State       TaskState       `json:"state"`
	SessionID   string          `json:"session_id"`
	Subscribers []string        `json:"subscribers"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Report      *AnalysisReport `json:"report,omitempty"`
}
