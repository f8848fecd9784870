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

func prepareNotification(n *models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()
}

const insertNotification = `INSERT INTO notifications (id, user_id, message, read, created_at) VALUES (?, ?, ?, ?, ?)`

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	prepareNotification(n)
	if _, err := db.ExecContext(ctx, insertNotification, n.ID, n.UserID, n.Message, n.Read, n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CreateNotifications stores all notifications in one transaction.
func (db *DB) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertNotification)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notifications {
		prepareNotification(n)
		if _, err = stmt.ExecContext(ctx, n.ID, n.UserID, n.Message, n.Read, n.CreatedAt); err != nil {
			return fmt.Errorf("insert notification for %s: %w", n.UserID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit notifications: %w", err)
	}
	return nil
}

// ListNotificationsByUser returns the user's notifications and broadcasts, newest first.
func (db *DB) ListNotificationsByUser(ctx context.Context, userID string) ([]models.Notification, error) {
	query := `
        SELECT id, user_id, message, read, created_at
        FROM notifications
        WHERE user_id = ? OR user_id = '*'
        ORDER BY created_at DESC, id ASC
    `
	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (db *DB) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	var n models.Notification
	err = db.QueryRowContext(ctx,
		`SELECT id, user_id, message, read, created_at FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &n.UserID, &n.Message, &n.Read, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}
	return &n, nil
}
