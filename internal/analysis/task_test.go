package analysis

import (
	"context"
	"testing"
	"time"

	"stockpulse/internal/domain"
	"stockpulse/internal/events"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTaskStateMachine(t *testing.T) {
	hub := events.NewHub(events.Options{HistorySize: 16, Logger: zerolog.Nop()})
	task := newTask("t1", domain.Instrument{CanonicalCode: "AAPL", Market: domain.MarketUS}, Options{}, hub, zerolog.Nop(), time.Now())

	assert.False(t, task.advance(domain.TaskScoring), "QUEUED cannot skip to SCORING")
	assert.True(t, task.advance(domain.TaskFetching))
	assert.NotNil(t, task.Info().StartedAt)
	assert.True(t, task.emit(domain.EventProgress, nil))

	var finished []domain.TaskState
	task.onFinish = func(_ *Task, s domain.TaskState) { finished = append(finished, s) }

	assert.True(t, task.Cancel(""))
	assert.False(t, task.fail("late failure"))
	assert.False(t, task.emit(domain.EventProgress, nil))
	assert.False(t, task.advance(domain.TaskScoring))

	select {
	case <-task.Done():
	default:
		t.Fatal("done channel should be closed")
	}
	assert.Equal(t, []domain.TaskState{domain.TaskCancelled}, finished)

	info := task.Info()
	assert.Equal(t, domain.TaskCancelled, info.State)
	assert.Equal(t, domain.ErrCancelledByClient.Error(), info.Error)
	assert.NotNil(t, info.FinishedAt)
	assert.Nil(t, info.Report)

	replay := hub.Replay("t1")
	assert.Len(t, replay, 2)
	assert.Equal(t, domain.EventCancelled, replay[1].Kind)
	assert.ErrorIs(t, task.ctx.Err(), context.Canceled)
}
