package service

import (
	"context"
	"testing"

	"notifyhub/internal/delivery"
	"notifyhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSendToUser(t *testing.T) {
	repo := new(mockNotificationRepo)
	pub := &fakePublisher{}
	svc := NewNotificationService(repo, pub, nil)

	repo.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.UserID == "u1" && n.Message == "hi" && !n.Read
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Notification).ID = "n1"
	}).Return(nil).Once()

	n, err := svc.SendToUser(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "u1", pub.events[0].address)
	assert.Equal(t, models.EventNewNotification, pub.events[0].event.Name)
	assert.Equal(t, n, pub.events[0].event.Data)
	repo.AssertExpectations(t)
}

func TestSendValidation(t *testing.T) {
	repo := new(mockNotificationRepo)
	pub := &fakePublisher{}
	svc := NewNotificationService(repo, pub, nil)
	ctx := context.Background()

	_, err := svc.Send(ctx, "u1", "", false)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Send(ctx, "", "hi", false)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.SendToUsers(ctx, nil, "hi")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.SendToUsers(ctx, []string{"u1", ""}, "hi")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, pub.events)
	repo.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
}

func TestSendBroadcast(t *testing.T) {
	repo := new(mockNotificationRepo)
	pub := &fakePublisher{}
	repo.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.UserID == delivery.Broadcast
	})).Return(nil).Once()

	_, err := NewNotificationService(repo, pub, nil).Send(context.Background(), "", "hello all", true)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, delivery.Broadcast, pub.events[0].address)
	repo.AssertExpectations(t)
}

func TestSendToUsersDeduplicates(t *testing.T) {
	repo := new(mockNotificationRepo)
	pub := &fakePublisher{}
	repo.On("CreateNotifications", mock.Anything, mock.MatchedBy(func(ns []*models.Notification) bool {
		return len(ns) == 2 && ns[0].UserID == "a" && ns[1].UserID == "b"
	})).Return(nil).Once()

	out, err := NewNotificationService(repo, pub, nil).SendToUsers(context.Background(), []string{"a", "b", "a"}, "hi")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	require.Len(t, pub.events, 2)
	assert.Equal(t, "a", pub.events[0].address)
	assert.Equal(t, "b", pub.events[1].address)
	repo.AssertExpectations(t)
}

func TestMarkReadAndList(t *testing.T) {
	repo := new(mockNotificationRepo)
	repo.On("MarkNotificationRead", mock.Anything, "n1").Return(&models.Notification{ID: "n1", Read: true}, nil)
	repo.On("ListNotificationsByUser", mock.Anything, "u1").Return([]models.Notification{{ID: "n1"}}, nil)
	svc := NewNotificationService(repo, nil, nil)

	n, err := svc.MarkRead(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, n.Read)

	list, err := svc.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.MarkRead(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
