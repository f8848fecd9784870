package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDispatchCallbackSuccess(t *testing.T) {
	d := new(mockDispatcher)
	d.On("SendToUser", mock.Anything, "u1", "hello").Return(&models.Notification{ID: "n1"}, nil)

	now := time.Now()
	out, err := NewDispatchCallback(d, "hello")(context.Background(), now, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, out.Status)
	assert.Equal(t, now, out.ExecutedAt)
	assert.Equal(t, "n1", out.GetString("notificationId"))
	d.AssertExpectations(t)
}

func TestDispatchCallbackFailureBecomesOutcome(t *testing.T) {
	d := new(mockDispatcher)
	d.On("SendToUser", mock.Anything, "u1", "hello").Return(nil, errors.New("user not found"))

	out, err := NewDispatchCallback(d, "hello")(context.Background(), time.Now(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeError, out.Status)
	assert.Equal(t, "user not found", out.Error)
}

func TestLayerMergesCustomOverBase(t *testing.T) {
	base := func(_ context.Context, now time.Time, _ string) (models.Outcome, error) {
		return models.Outcome{
			Status:     models.OutcomeSuccess,
			ExecutedAt: now,
			Data:       map[string]any{"notificationId": "n1", "source": "base"},
		}, nil
	}
	custom := func(_ context.Context, _ time.Time, userID string) (models.Outcome, error) {
		return models.Outcome{
			ExecutedAt: time.Unix(0, 0),
			Data:       map[string]any{"source": "custom", "user": userID},
		}, nil
	}

	now := time.Now()
	out, err := Layer(base, custom)(context.Background(), now, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, out.Status)
	assert.Equal(t, now, out.ExecutedAt)
	assert.Equal(t, "n1", out.GetString("notificationId"))
	assert.Equal(t, "custom", out.GetString("source"))
	assert.Equal(t, "u1", out.GetString("user"))
}

func TestLayerCustomCanFailSuccessfulBase(t *testing.T) {
	base := func(_ context.Context, now time.Time, _ string) (models.Outcome, error) {
		return models.Outcome{Status: models.OutcomeSuccess, ExecutedAt: now}, nil
	}
	custom := func(context.Context, time.Time, string) (models.Outcome, error) {
		return models.Outcome{Status: models.OutcomeError, Error: "audit failed"}, nil
	}

	out, err := Layer(base, custom)(context.Background(), time.Now(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeError, out.Status)
	assert.Equal(t, "audit failed", out.Error)
}

func TestLayerPropagatesCustomError(t *testing.T) {
	base := func(_ context.Context, now time.Time, _ string) (models.Outcome, error) {
		return models.Outcome{Status: models.OutcomeSuccess, ExecutedAt: now}, nil
	}
	custom := func(context.Context, time.Time, string) (models.Outcome, error) {
		return models.Outcome{}, errors.New("custom broke")
	}

	_, err := Layer(base, custom)(context.Background(), time.Now(), "u1")
	assert.EqualError(t, err, "custom broke")
}

func TestLayerNilCustomReturnsBase(t *testing.T) {
	calls := 0
	base := func(context.Context, time.Time, string) (models.Outcome, error) {
		calls++
		return models.Outcome{Status: models.OutcomeSuccess}, nil
	}

	_, err := Layer(base, nil)(context.Background(), time.Now(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
