package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"notifyhub/internal/delivery"
	"notifyhub/internal/models"

	"github.com/stretchr/testify/mock"
)

type capturedPush struct {
	address string
	event   delivery.Event
}

type pushRecorder struct {
	mu     sync.Mutex
	pushes []capturedPush
}

func (p *pushRecorder) Publish(_ context.Context, address string, event delivery.Event) {
	p.mu.Lock()
	p.pushes = append(p.pushes, capturedPush{address: address, event: event})
	p.mu.Unlock()
}

func (p *pushRecorder) all() []capturedPush {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedPush(nil), p.pushes...)
}

func (p *pushRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

type eventRecorder struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(map[string][][]byte)}
}

func (r *eventRecorder) PublishJSON(eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events[eventType] = append(r.events[eventType], raw)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[eventType])
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendToUser(ctx context.Context, userID, message string) (*models.Notification, error) {
	args := m.Called(ctx, userID, message)
	n, _ := args.Get(0).(*models.Notification)
	return n, args.Error(1)
}

type staticSource struct {
	mu      sync.Mutex
	records []models.ScheduleRecord
	err     error
	calls   int
}

func (s *staticSource) FetchSchedules(context.Context) ([]models.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.ScheduleRecord{}, s.records...), nil
}

func (s *staticSource) set(records []models.ScheduleRecord, err error) {
	s.mu.Lock()
	s.records = records
	s.err = err
	s.mu.Unlock()
}

func (s *staticSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func record(id, userID string, at time.Time) models.ScheduleRecord {
	return models.ScheduleRecord{ID: id, UserID: userID, Time: at}
}

func desiredOf(records ...models.ScheduleRecord) map[string]models.ScheduleRecord {
	out := make(map[string]models.ScheduleRecord, len(records))
	for _, rec := range records {
		out[rec.ID] = rec
	}
	return out
}

func taskResultOf(t *testing.T, push capturedPush) TaskResult {
	t.Helper()
	result, ok := push.event.Data.(TaskResult)
	if !ok {
		t.Fatalf("push data is %T, want TaskResult", push.event.Data)
	}
	return result
}
