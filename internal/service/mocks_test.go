package service

import (
	"context"
	"sync"

	"notifyhub/internal/delivery"
	"notifyhub/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockScheduleRepo struct {
	mock.Mock
}

func (m *mockScheduleRepo) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockScheduleRepo) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) DeleteSchedule(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockNotificationRepo struct {
	mock.Mock
}

func (m *mockNotificationRepo) CreateNotification(ctx context.Context, n *models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotificationRepo) CreateNotifications(ctx context.Context, ns []*models.Notification) error {
	return m.Called(ctx, ns).Error(0)
}

func (m *mockNotificationRepo) ListNotificationsByUser(ctx context.Context, userID string) ([]models.Notification, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *mockNotificationRepo) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Notification), args.Error(1)
}

type mockTaskRunRepo struct {
	mock.Mock
}

func (m *mockTaskRunRepo) CreateTaskRun(ctx context.Context, run *models.TaskRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockTaskRunRepo) ListTaskRuns(ctx context.Context, taskID string, limit int) ([]models.TaskRun, error) {
	args := m.Called(ctx, taskID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TaskRun), args.Error(1)
}

type published struct {
	address string
	event   delivery.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, address string, event delivery.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{address: address, event: event})
}
