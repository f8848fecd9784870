package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

func TestHTTPDispatcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		var body dispatchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body.UserID)
		assert.Equal(t, "hi", body.Message)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Notification sent","data":{"_id":"n1","userId":"u1","message":"hi"}}`))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, time.Second, map[string]string{"x-api-key": "k"}, fastRetry, nil)
	n, err := d.SendToUser(context.Background(), "u1", "hi")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "n1", n.ID)
}

func TestHTTPDispatcherRetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"_id":"n1"}}`))
	}))
	defer srv.Close()

	n, err := NewHTTPDispatcher(srv.URL, time.Second, nil, fastRetry, nil).SendToUser(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDispatcherGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPDispatcher(srv.URL, time.Second, nil, fastRetry, nil).SendToUser(context.Background(), "u1", "hi")
	assert.ErrorIs(t, err, ErrDispatchRejected)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDispatcherDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"User not found"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPDispatcher(srv.URL, time.Second, nil, fastRetry, nil).SendToUser(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, ErrDispatchRejected)
	assert.Contains(t, err.Error(), "User not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDispatcherMalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html>ok</html>`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	d := NewHTTPDispatcher(srv.URL, time.Second, nil, fastRetry, &logger)

	n, err := d.SendToUser(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Contains(t, buf.String(), "decode dispatch response")
}
