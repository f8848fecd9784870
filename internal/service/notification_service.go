package service

import (
	"context"
	"strings"
	"time"

	"notifyhub/internal/delivery"
	"notifyhub/internal/domain"
	"notifyhub/internal/models"

	"github.com/rs/zerolog"
)

// NotificationService stores notifications and pushes newNotification events.
// It also serves as the in-process dispatcher for scheduled tasks.
type NotificationService struct {
	repo      domain.NotificationRepository
	publisher delivery.Publisher
	logger    *zerolog.Logger
}

func NewNotificationService(repo domain.NotificationRepository, publisher delivery.Publisher, logger *zerolog.Logger) *NotificationService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NotificationService{repo: repo, publisher: publisher, logger: logger}
}

// Send delivers to one user, or to everyone when broadcast is set.
// A broadcast is stored once under the broadcast address.
func (s *NotificationService) Send(ctx context.Context, userID, message string, broadcast bool) (*models.Notification, error) {
	if strings.TrimSpace(message) == "" {
		return nil, invalid("message is required")
	}
	if !broadcast {
		return s.SendToUser(ctx, userID, message)
	}

	n := &models.Notification{UserID: delivery.Broadcast, Message: message, CreatedAt: time.Now()}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	s.push(ctx, delivery.Broadcast, n)
	s.logger.Info().Str("notification_id", n.ID).Msg("notification broadcast")
	return n, nil
}

// SendToUser implements domain.Dispatcher.
func (s *NotificationService) SendToUser(ctx context.Context, userID, message string) (*models.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("userId is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, invalid("message is required")
	}

	n := &models.Notification{UserID: userID, Message: message, CreatedAt: time.Now()}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	s.push(ctx, userID, n)
	s.logger.Debug().Str("notification_id", n.ID).Str("user_id", userID).Msg("notification sent")
	return n, nil
}

// SendToUsers stores one notification per distinct user and pushes to each room.
func (s *NotificationService) SendToUsers(ctx context.Context, userIDs []string, message string) ([]*models.Notification, error) {
	if strings.TrimSpace(message) == "" {
		return nil, invalid("message is required")
	}

	seen := make(map[string]struct{}, len(userIDs))
	notifications := make([]*models.Notification, 0, len(userIDs))
	now := time.Now()
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, invalid("userIds must not contain empty values")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		notifications = append(notifications, &models.Notification{UserID: id, Message: message, CreatedAt: now})
	}
	if len(notifications) == 0 {
		return nil, invalid("a non-empty array of userIds is required")
	}

	if err := s.repo.CreateNotifications(ctx, notifications); err != nil {
		return nil, err
	}
	for _, n := range notifications {
		s.push(ctx, n.UserID, n)
	}
	s.logger.Info().Int("recipients", len(notifications)).Msg("notification sent to multiple users")
	return notifications, nil
}

func (s *NotificationService) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId is required")
	}
	return s.repo.ListNotificationsByUser(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("notification id is required")
	}
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *NotificationService) push(ctx context.Context, address string, n *models.Notification) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, address, delivery.Event{Name: models.EventNewNotification, Data: n})
}
