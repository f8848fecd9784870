package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notifyhub/internal/models"

	"github.com/google/uuid"
)

// CreateSchedule inserts a schedule, assigning an id when empty.
// Re-using an id replaces the stored execution time.
func (db *DB) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Time = s.Time.UTC()

	query := `
        INSERT INTO schedules (id, user_id, time, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            user_id = excluded.user_id,
            time = excluded.time,
            updated_at = excluded.updated_at
    `
	if _, err := db.ExecContext(ctx, query, s.ID, s.UserID, s.Time, s.CreatedAt.UTC(), s.UpdatedAt); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (db *DB) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT id, user_id, time, created_at, updated_at FROM schedules WHERE id = ?`

	var s models.Schedule
	err := db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.UserID, &s.Time, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &s, nil
}

// ListSchedules returns every schedule ordered by execution time.
// The result is non-nil even when the table is empty.
func (db *DB) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	query := `SELECT id, user_id, time, created_at, updated_at FROM schedules ORDER BY time ASC, id ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []models.Schedule{}
	for rows.Next() {
		var s models.Schedule
		if err := rows.Scan(&s.ID, &s.UserID, &s.Time, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (db *DB) DeleteSchedule(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
