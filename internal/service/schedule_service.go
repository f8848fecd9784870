package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notifyhub/internal/domain"
	"notifyhub/internal/models"

	"github.com/rs/zerolog"
)

// ErrInvalidInput marks request validation failures.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type ScheduleService struct {
	repo   domain.ScheduleRepository
	logger *zerolog.Logger
}

func NewScheduleService(repo domain.ScheduleRepository, logger *zerolog.Logger) *ScheduleService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ScheduleService{repo: repo, logger: logger}
}

// CreateSchedule stores a desired execution. Past times are accepted; the
// scheduler skips them at admission.
func (s *ScheduleService) CreateSchedule(ctx context.Context, id, userID string, at time.Time) (*models.Schedule, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("userId is required")
	}
	if at.IsZero() {
		return nil, invalid("time is required")
	}

	schedule := &models.Schedule{ID: strings.TrimSpace(id), UserID: userID, Time: at}
	if err := s.repo.CreateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("user_id", userID).
		Time("time", schedule.Time).
		Msg("schedule saved")
	return schedule, nil
}

func (s *ScheduleService) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.repo.ListSchedules(ctx)
}

func (s *ScheduleService) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

func (s *ScheduleService) DeleteSchedule(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id is required")
	}
	if err := s.repo.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("schedule_id", id).Msg("schedule deleted")
	return nil
}
