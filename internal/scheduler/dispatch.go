package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"notifyhub/internal/models"

	"github.com/rs/zerolog"
)

// ErrDispatchRejected is returned when the notification endpoint refuses a message.
var ErrDispatchRejected = errors.New("notification dispatch rejected")

// HTTPDispatcher posts {userId, message} to a remote notification endpoint.
// Transport errors and 502/503/504 answers are retried with backoff.
type HTTPDispatcher struct {
	url     string
	client  *http.Client
	headers map[string]string
	retry   RetryPolicy
	logger  *zerolog.Logger
}

func NewHTTPDispatcher(url string, timeout time.Duration, headers map[string]string, retry RetryPolicy, logger *zerolog.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &HTTPDispatcher{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		headers: headers,
		retry:   retry,
		logger:  logger,
	}
}

type dispatchRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type dispatchResponse struct {
	Message string               `json:"message"`
	Error   string               `json:"error"`
	Data    *models.Notification `json:"data"`
}

func (d *HTTPDispatcher) SendToUser(ctx context.Context, userID, message string) (*models.Notification, error) {
	body, err := json.Marshal(dispatchRequest{UserID: userID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("encode dispatch request: %w", err)
	}

	for attempt := 1; ; attempt++ {
		notification, retryable, err := d.post(ctx, body)
		if err == nil {
			return notification, nil
		}
		if !retryable || attempt > d.retry.MaxRetries {
			return nil, err
		}

		delay := d.retry.NextDelay(attempt)
		d.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("dispatch failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *HTTPDispatcher) post(ctx context.Context, body []byte) (*models.Notification, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	var payload dispatchResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		d.logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("read dispatch response")
	} else if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			d.logger.Debug().Err(err).Int("status", resp.StatusCode).Msg("decode dispatch response")
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload.Data, false, nil
	}

	reason := payload.Message
	if reason == "" {
		reason = payload.Error
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	err = fmt.Errorf("%w: http %d: %s", ErrDispatchRejected, resp.StatusCode, reason)

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, true, err
	default:
		return nil, false, err
	}
}
