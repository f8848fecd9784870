package service

import (
	"context"
	"fmt"

	"notifyhub/internal/domain"
	"notifyhub/internal/events"
	"notifyhub/internal/models"

	"github.com/rs/zerolog"
)

// HistoryRecorder persists one TaskRun per task_executed event.
type HistoryRecorder struct {
	repo   domain.TaskRunRepository
	logger *zerolog.Logger
}

func NewHistoryRecorder(repo domain.TaskRunRepository, logger *zerolog.Logger) *HistoryRecorder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &HistoryRecorder{repo: repo, logger: logger}
}

// Subscribe attaches the recorder to bus and returns the detach func.
func (h *HistoryRecorder) Subscribe(bus *events.EventBus) func() {
	return bus.Subscribe(events.EventTaskExecuted, h.Handle)
}

func (h *HistoryRecorder) Handle(event *events.Event) error {
	var payload events.TaskEventPayload
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decode task event: %w", err)
	}

	run := &models.TaskRun{
		TaskID:        payload.TaskID,
		UserID:        payload.UserID,
		Status:        payload.Status,
		Error:         payload.Error,
		ExecutionTime: payload.ExecutionTime,
		ExecutedAt:    payload.ExecutedAt,
	}
	if err := h.repo.CreateTaskRun(context.Background(), run); err != nil {
		return fmt.Errorf("record task run %s: %w", payload.TaskID, err)
	}
	return nil
}

// History returns recorded runs newest first, optionally filtered by task id.
func (h *HistoryRecorder) History(ctx context.Context, taskID string, limit int) ([]models.TaskRun, error) {
	return h.repo.ListTaskRuns(ctx, taskID, limit)
}
