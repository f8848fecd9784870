package scheduler

import (
	"context"
	"time"

	"notifyhub/internal/domain"
	"notifyhub/internal/models"
)

// Callback is the execution action run when a task fires. now is the firing time.
type Callback func(ctx context.Context, now time.Time, userID string) (models.Outcome, error)

// NewDispatchCallback returns the base callback: deliver message to the user.
// Dispatch failures become an error outcome instead of an error return.
func NewDispatchCallback(dispatcher domain.Dispatcher, message string) Callback {
	return func(ctx context.Context, now time.Time, userID string) (models.Outcome, error) {
		notification, err := dispatcher.SendToUser(ctx, userID, message)
		if err != nil {
			return models.Outcome{
				Status:     models.OutcomeError,
				ExecutedAt: now,
				Error:      err.Error(),
			}, nil
		}

		out := models.Outcome{Status: models.OutcomeSuccess, ExecutedAt: now}
		if notification != nil {
			out.Data = map[string]any{"notificationId": notification.ID}
		}
		return out, nil
	}
}

// Layer runs base then custom and merges custom's outcome over base's.
// ExecutedAt is always the firing time. An error from either is returned as is.
func Layer(base, custom Callback) Callback {
	if custom == nil {
		return base
	}
	return func(ctx context.Context, now time.Time, userID string) (models.Outcome, error) {
		result, err := base(ctx, now, userID)
		if err != nil {
			return result, err
		}
		extra, err := custom(ctx, now, userID)
		if err != nil {
			return result, err
		}
		merged := result.Merge(extra)
		merged.ExecutedAt = now
		return merged, nil
	}
}
