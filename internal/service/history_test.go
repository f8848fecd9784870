package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyhub/internal/events"
	"notifyhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecorderPersistsExecutedTasks(t *testing.T) {
	repo := new(mockTaskRunRepo)
	at := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	repo.On("CreateTaskRun", mock.Anything, mock.MatchedBy(func(r *models.TaskRun) bool {
		return r.TaskID == "t1" && r.UserID == "u1" && r.Status == models.OutcomeError && r.Error == "boom" && r.ExecutionTime.Equal(at)
	})).Return(nil).Once()

	bus := events.NewEventBus(nil)
	unsubscribe := NewHistoryRecorder(repo, nil).Subscribe(bus)
	defer unsubscribe()

	require.NoError(t, bus.PublishJSON(events.EventTaskExecuted, events.TaskEventPayload{
		TaskID: "t1", UserID: "u1", ExecutionTime: at, Status: models.OutcomeError, Error: "boom", ExecutedAt: at,
	}))
	// Other event types are ignored.
	require.NoError(t, bus.PublishJSON(events.EventTaskAdmitted, events.TaskEventPayload{TaskID: "t2"}))

	repo.AssertExpectations(t)
}

func TestHistoryRecorderHandleErrors(t *testing.T) {
	repo := new(mockTaskRunRepo)
	repo.On("CreateTaskRun", mock.Anything, mock.Anything).Return(errors.New("locked"))
	h := NewHistoryRecorder(repo, nil)

	err := h.Handle(&events.Event{Type: events.EventTaskExecuted, Payload: []byte(`{"task_id":"t1"}`)})
	assert.ErrorContains(t, err, "locked")

	err = h.Handle(&events.Event{Type: events.EventTaskExecuted, Payload: []byte(`not json`)})
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	repo := new(mockTaskRunRepo)
	repo.On("ListTaskRuns", mock.Anything, "t1", 5).Return([]models.TaskRun{{TaskID: "t1"}}, nil)

	runs, err := NewHistoryRecorder(repo, nil).History(context.Background(), "t1", 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
