package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"notifyhub/internal/config"
	"notifyhub/internal/database"
	"notifyhub/internal/delivery"
	"notifyhub/internal/models"
	"notifyhub/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	mu        sync.Mutex
	tasks     []models.Task
	scheduled []string
	result    models.ReconcileResult
	err       error
}

func (f *fakeScheduler) Tasks() []models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Task(nil), f.tasks...)
}

func (f *fakeScheduler) Reconcile(context.Context) (models.ReconcileResult, error) {
	return f.result, f.err
}

func (f *fakeScheduler) Schedule(id, userID string, at time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.scheduled {
		if existing == id {
			return false
		}
	}
	f.scheduled = append(f.scheduled, id)
	f.tasks = append(f.tasks, models.Task{ID: id, UserID: userID, ExecutionTime: at, State: models.TaskPending})
	return true
}

type testEnv struct {
	handler http.Handler
	db      *database.DB
	hub     *delivery.Hub
	sched   *fakeScheduler
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := delivery.NewHub(8, &logger)
	sched := &fakeScheduler{}
	srv := NewHTTPServer(cfg, HTTPDeps{
		Schedules:     service.NewScheduleService(db, &logger),
		Notifications: service.NewNotificationService(db, hub, &logger),
		History:       service.NewHistoryRecorder(db, &logger),
		Scheduler:     sched,
		Hub:           hub,
		Health:        db,
	}, &logger)

	return &testEnv{handler: srv.Handler(), db: db, hub: hub, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSchedulesEndpoints(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]string{"userId": "u1", "time": at.Format(time.RFC3339)}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data models.Schedule `json:"data"`
	}
	decode(t, rec, &created)
	require.NotEmpty(t, created.Data.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/schedules/get", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Status string                  `json:"status"`
		Data   []models.ScheduleRecord `json:"data"`
	}
	decode(t, rec, &list)
	assert.Equal(t, "OK", list.Status)
	require.Len(t, list.Data, 1)
	assert.Equal(t, created.Data.ID, list.Data[0].ID)
	assert.True(t, list.Data[0].Time.Equal(at))

	rec = env.do(t, http.MethodDelete, "/api/v1/schedules/"+created.Data.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/schedules/"+created.Data.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/schedules", nil, nil)
	decode(t, rec, &list)
	assert.NotNil(t, list.Data)
	assert.Empty(t, list.Data)
}

func TestCreateScheduleValidation(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	rec := env.do(t, http.MethodPost, "/api/v1/schedules", map[string]string{"userId": "u1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/schedules", map[string]string{"userId": "u1", "time": "tomorrow"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{"userId": "u1", "unknown": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	client := env.hub.Register()
	require.True(t, env.hub.Join(client, "u1"))

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/send-specific", map[string]string{"userId": "u1", "message": "hi"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sent struct {
		Data models.Notification `json:"data"`
	}
	decode(t, rec, &sent)
	assert.Equal(t, "hi", sent.Data.Message)

	select {
	case raw := <-client.Messages():
		var ev struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.Equal(t, models.EventNewNotification, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("expected newNotification push")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/send-multiple", map[string]any{"userIds": []string{"u2", "u3"}, "message": "yo"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/send", map[string]any{"message": "all", "broadcast": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/send", map[string]any{"message": "nobody"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/notifications/u1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Notification
	decode(t, rec, &list)
	require.Len(t, list, 2)

	rec = env.do(t, http.MethodPatch, "/api/v1/notifications/read/"+sent.Data.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var marked struct {
		Notification models.Notification `json:"notification"`
	}
	decode(t, rec, &marked)
	assert.True(t, marked.Notification.Read)

	rec = env.do(t, http.MethodPatch, "/api/v1/notifications/read/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.sched.Schedule("t1", "u1", time.Now().Add(time.Hour))
	env.sched.result = models.ReconcileResult{Fetched: 3, Admitted: 1}

	rec := env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks struct {
		Tasks []models.Task `json:"tasks"`
	}
	decode(t, rec, &tasks)
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "t1", tasks.Tasks[0].ID)

	rec = env.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Result models.ReconcileResult `json:"result"`
	}
	decode(t, rec, &res)
	assert.Equal(t, 3, res.Result.Fetched)

	env.sched.err = errors.New("source down")
	rec = env.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	require.NoError(t, env.db.CreateTaskRun(context.Background(), &models.TaskRun{
		TaskID: "t1", UserID: "u1", Status: models.OutcomeSuccess, ExecutionTime: time.Now(), ExecutedAt: time.Now(),
	}))
	rec = env.do(t, http.MethodGet, "/api/v1/scheduler/history?taskId=t1&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Runs []models.TaskRun `json:"runs"`
	}
	decode(t, rec, &history)
	assert.Len(t, history.Runs, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/scheduler/history?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMethodMismatch(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = env.do(t, http.MethodPut, "/api/v1/scheduler/tasks", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "admin", Extra: "x", Name: "admin"},
				{Key: "reader", Extra: "y", Name: "reader", Permissions: []string{"read:tasks"}},
			},
		},
	}
}

func TestHTTPAuth(t *testing.T) {
	env := newTestEnv(t, authConfig())

	rec := env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil, map[string]string{"x-api-key": "admin", "x-api-extra": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil, map[string]string{"x-api-key": "reader", "x-api-extra": "y"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", nil, map[string]string{"x-api-key": "reader", "x-api-extra": "y"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", nil, map[string]string{"x-api-key": "admin", "x-api-extra": "x"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Enabled:   true,
		HTTP:      config.APIHTTPConfig{Enabled: true},
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2},
	}
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{CORSOrigins: []string{"https://app.example.com/"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/schedules", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
