package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notifyhub/internal/models"
)

var (
	// ErrSourceStatus is returned when the source answers with a status other than OK.
	ErrSourceStatus = errors.New("schedule source reported failure")
	// ErrMalformedResponse is returned when the source body cannot be interpreted.
	ErrMalformedResponse = errors.New("malformed schedule source response")
)

// Source yields the current desired schedule set.
// An empty non-nil result is an explicit "nothing scheduled".
type Source interface {
	FetchSchedules(ctx context.Context) ([]models.ScheduleRecord, error)
}

const maxSourceBody = 4 << 20

// HTTPSource fetches schedules from a remote endpoint answering
// {"status":"OK","data":[{"_id","userId","time"}]}.
type HTTPSource struct {
	url     string
	client  *http.Client
	headers map[string]string
}

func NewHTTPSource(url string, timeout time.Duration, headers map[string]string) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

type sourceResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	Data    *[]json.RawMessage `json:"data"`
}

// sourceRecord keeps time raw so one bad timestamp does not fail the whole list.
type sourceRecord struct {
	ID     string          `json:"_id"`
	UserID string          `json:"userId"`
	Time   json.RawMessage `json:"time"`
}

// decodeRecord never fails. Undecodable fields stay zero, so the reconciler
// skips the record as missing an id or not being in the future.
func decodeRecord(raw json.RawMessage) models.ScheduleRecord {
	var r sourceRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.ScheduleRecord{}
	}
	rec := models.ScheduleRecord{ID: r.ID, UserID: r.UserID}
	var at string
	if err := json.Unmarshal(r.Time, &at); err == nil {
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(at)); err == nil {
			rec.Time = parsed
		}
	}
	return rec
}

func (s *HTTPSource) FetchSchedules(ctx context.Context) ([]models.ScheduleRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schedules: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBody))
	if err != nil {
		return nil, fmt.Errorf("read source response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d", ErrSourceStatus, resp.StatusCode)
	}

	var payload sourceResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !strings.EqualFold(payload.Status, models.SourceStatusOK) {
		if payload.Message != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrSourceStatus, payload.Status, payload.Message)
		}
		return nil, fmt.Errorf("%w: %q", ErrSourceStatus, payload.Status)
	}
	if payload.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	records := make([]models.ScheduleRecord, 0, len(*payload.Data))
	for _, raw := range *payload.Data {
		records = append(records, decodeRecord(raw))
	}
	return records, nil
}

// ScheduleLister is the storage side of RepositorySource.
type ScheduleLister interface {
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
}

// RepositorySource reads schedules from the local schedule store.
type RepositorySource struct {
	repo ScheduleLister
}

func NewRepositorySource(repo ScheduleLister) *RepositorySource {
	return &RepositorySource{repo: repo}
}

func (s *RepositorySource) FetchSchedules(ctx context.Context) ([]models.ScheduleRecord, error) {
	schedules, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	records := make([]models.ScheduleRecord, 0, len(schedules))
	for _, sc := range schedules {
		records = append(records, sc.Record())
	}
	return records, nil
}
