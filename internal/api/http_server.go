package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notifyhub/internal/config"
	"notifyhub/internal/database"
	"notifyhub/internal/delivery"
	"notifyhub/internal/domain"
	"notifyhub/internal/metrics"
	"notifyhub/internal/models"
	"notifyhub/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPDeps are the collaborators served by the HTTP API.
type HTTPDeps struct {
	Schedules     *service.ScheduleService
	Notifications *service.NotificationService
	History       *service.HistoryRecorder
	Scheduler     domain.TaskScheduler
	Hub           *delivery.Hub
	WS            delivery.WSOptions
	Health        Pinger
}

// HTTPServer exposes the schedule, notification and scheduler APIs plus the websocket endpoint.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   HTTPDeps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps HTTPDeps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	srv.route(mux, "POST /api/v1/schedules", srv.handleCreateSchedule)
	srv.route(mux, "GET /api/v1/schedules", srv.handleListSchedules)
	srv.route(mux, "GET /api/v1/schedules/get", srv.handleListSchedules)
	srv.route(mux, "DELETE /api/v1/schedules/{id}", srv.handleDeleteSchedule)

	srv.route(mux, "POST /api/v1/notifications/send", srv.handleSendNotification)
	srv.route(mux, "POST /api/v1/notifications/send-specific", srv.handleSendToSpecificUser)
	srv.route(mux, "POST /api/v1/notifications/send-multiple", srv.handleSendToMultipleUsers)
	srv.route(mux, "GET /api/v1/notifications/{userId}", srv.handleListNotifications)
	srv.route(mux, "PATCH /api/v1/notifications/read/{id}", srv.handleMarkRead)

	srv.route(mux, "GET /api/v1/scheduler/tasks", srv.handleListTasks)
	srv.route(mux, "POST /api/v1/scheduler/reconcile", srv.handleReconcile)
	srv.route(mux, "GET /api/v1/scheduler/history", srv.handleHistory)

	if deps.Hub != nil {
		mux.Handle("GET /ws", delivery.ServeWS(deps.Hub, deps.WS, logger))
	}
	srv.route(mux, "GET /healthz", srv.handleHealth)

	handler := loggingMiddleware(logger, corsMiddleware(cfg.CORSOrigins, srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type createScheduleRequest struct {
	ID     string `json:"_id"`
	UserID string `json:"userId"`
	Time   string `json:"time"`
}

func (s *HTTPServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body createScheduleRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.UserID) == "" || strings.TrimSpace(body.Time) == "" {
		writeError(w, http.StatusBadRequest, "userId and time are required")
		return
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(body.Time))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time format; expected RFC3339")
		return
	}

	schedule, err := s.deps.Schedules.CreateSchedule(r.Context(), body.ID, body.UserID, at)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("Schedule for %s saved for %s", schedule.UserID, schedule.Time.Format(time.RFC3339)),
		"data":    schedule,
	})
}

// handleListSchedules answers in the schedule-source format the reconciler consumes.
func (s *HTTPServer) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.deps.Schedules.ListSchedules(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list schedules")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "ERROR", "message": "failed to get schedules"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  models.SourceStatusOK,
		"message": "All Schedules Found",
		"data":    schedules,
	})
}

func (s *HTTPServer) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Schedules.DeleteSchedule(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Schedule deleted", "id": id})
}

type sendNotificationRequest struct {
	UserID    string   `json:"userId"`
	UserIDs   []string `json:"userIds"`
	Message   string   `json:"message"`
	Broadcast bool     `json:"broadcast"`
}

func (s *HTTPServer) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var body sendNotificationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	n, err := s.deps.Notifications.Send(r.Context(), body.UserID, body.Message, body.Broadcast)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	msg := "Notification sent successfully"
	if body.Broadcast {
		msg = "Notification broadcasted to all users"
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "data": n})
}

func (s *HTTPServer) handleSendToSpecificUser(w http.ResponseWriter, r *http.Request) {
	var body sendNotificationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	n, err := s.deps.Notifications.SendToUser(r.Context(), body.UserID, body.Message)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Notification sent to specific user", "data": n})
}

func (s *HTTPServer) handleSendToMultipleUsers(w http.ResponseWriter, r *http.Request) {
	var body sendNotificationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	sent, err := s.deps.Notifications.SendToUsers(r.Context(), body.UserIDs, body.Message)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	userIDs := make([]string, 0, len(sent))
	for _, n := range sent {
		userIDs = append(userIDs, n.UserID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Notifications sent to multiple users", "userIds": userIDs})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifications.ListForUser(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Notifications.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Notification marked as read", "notification": n})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.deps.Scheduler.Tasks()})
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	res, err := s.deps.Scheduler.Reconcile(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.deps.History.History(r.Context(), strings.TrimSpace(r.URL.Query().Get("taskId")), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[strings.TrimRight(origin, "/")]; ok || allowAll {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-API-Extra, X-Request-ID")
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	base := logger.With().Str("component", "http").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		base.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
