package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notifyhub/internal/delivery"
	"notifyhub/internal/domain"
	"notifyhub/internal/events"
	"notifyhub/internal/metrics"
	"notifyhub/internal/models"

	"github.com/rs/zerolog"
)

const (
	resultMessageSuccess = "Scheduled notification delivered"
	resultMessageFailure = "Scheduled notification failed"
	defaultFailureReason = "execution failed"
)

// TaskResult is the data of a taskResult push.
type TaskResult struct {
	TaskID     string    `json:"taskId"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executedAt"`
	Error      string    `json:"error,omitempty"`
}

// FireHandler runs the execution callback for an expired task, records the
// outcome in the store and pushes exactly one taskResult to the user's room.
type FireHandler struct {
	store     *Store
	publisher delivery.Publisher
	events    domain.EventPublisher
	logger    *zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	callback Callback
}

func NewFireHandler(publisher delivery.Publisher, eventPublisher domain.EventPublisher, logger *zerolog.Logger) *FireHandler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FireHandler{
		publisher: publisher,
		events:    eventPublisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *FireHandler) attach(store *Store) {
	h.store = store
}

// SetCallback replaces the execution callback used by subsequent fires.
func (h *FireHandler) SetCallback(cb Callback) {
	h.mu.Lock()
	h.callback = cb
	h.mu.Unlock()
}

func (h *FireHandler) currentCallback() Callback {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.callback
}

// Handle is the store's FireFunc.
func (h *FireHandler) Handle(task models.Task) {
	firedAt := h.now()
	outcome := h.run(task, firedAt)

	executedAt := outcome.ExecutedAt
	if executedAt.IsZero() {
		executedAt = firedAt
	}
	if h.store != nil {
		h.store.complete(task.ID, executedAt, firedAt)
	}

	result := TaskResult{
		TaskID:     task.ID,
		Message:    resultMessageSuccess,
		Status:     outcome.Status,
		ExecutedAt: executedAt,
	}
	if !outcome.Succeeded() {
		result.Message = resultMessageFailure
		result.Error = outcome.Error
	}
	if h.publisher != nil {
		h.publisher.Publish(context.Background(), task.UserID, delivery.Event{
			Name: models.EventTaskResult,
			Data: result,
		})
	}

	metrics.IncFire(outcome.Status)
	if h.events != nil {
		if err := h.events.PublishJSON(events.EventTaskExecuted, events.TaskEventPayload{
			TaskID:        task.ID,
			UserID:        task.UserID,
			ExecutionTime: task.ExecutionTime,
			Status:        outcome.Status,
			Error:         outcome.Error,
			ExecutedAt:    executedAt,
		}); err != nil {
			h.logger.Warn().Err(err).Str("task_id", task.ID).Msg("publish task executed event")
		}
	}

	logEvent := h.logger.Info()
	if !outcome.Succeeded() {
		logEvent = h.logger.Warn().Str("error", outcome.Error)
	}
	logEvent.
		Str("task_id", task.ID).
		Str("user_id", task.UserID).
		Str("status", outcome.Status).
		Time("execution_time", task.ExecutionTime).
		Dur("lag", firedAt.Sub(task.ExecutionTime)).
		Msg("task executed")
}

// run invokes the callback and normalizes its result. Panics and errors
// become error outcomes.
func (h *FireHandler) run(task models.Task, firedAt time.Time) (outcome models.Outcome) {
	cb := h.currentCallback()
	if cb == nil {
		return models.Outcome{Status: models.OutcomeError, ExecutedAt: firedAt, Error: "no execution callback configured"}
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("task_id", task.ID).Msg("execution callback panicked")
			outcome = models.Outcome{Status: models.OutcomeError, ExecutedAt: firedAt, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	out, err := cb(context.Background(), firedAt, task.UserID)
	if err != nil {
		return models.Outcome{Status: models.OutcomeError, ExecutedAt: firedAt, Error: err.Error()}
	}
	if out.Status == "" {
		out.Status = models.OutcomeSuccess
	}
	if out.Status != models.OutcomeSuccess {
		out.Status = models.OutcomeError
		if out.Error == "" {
			out.Error = defaultFailureReason
		}
	}
	return out
}
