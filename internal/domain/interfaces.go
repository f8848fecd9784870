package domain

import (
	"context"
	"time"

	"notifyhub/internal/models"
)

type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification *models.Notification) error
	CreateNotifications(ctx context.Context, notifications []*models.Notification) error
	ListNotificationsByUser(ctx context.Context, userID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error)
}

type TaskRunRepository interface {
	CreateTaskRun(ctx context.Context, run *models.TaskRun) error
	ListTaskRuns(ctx context.Context, taskID string, limit int) ([]models.TaskRun, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// TaskScheduler is the scheduler surface exposed to the HTTP and gRPC layers.
type TaskScheduler interface {
	Tasks() []models.Task
	Reconcile(ctx context.Context) (models.ReconcileResult, error)
	Schedule(id, userID string, at time.Time) bool
}

// Dispatcher delivers one message to one user.
type Dispatcher interface {
	SendToUser(ctx context.Context, userID, message string) (*models.Notification, error)
}
