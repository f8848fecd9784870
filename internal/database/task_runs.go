package database

import (
	"context"
	"database/sql"
	"fmt"

	"notifyhub/internal/models"
)

func (db *DB) CreateTaskRun(ctx context.Context, run *models.TaskRun) error {
	query := `
        INSERT INTO task_runs (task_id, user_id, status, error, execution_time, executed_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	res, err := db.ExecContext(ctx, query,
		run.TaskID,
		run.UserID,
		run.Status,
		sql.NullString{String: run.Error, Valid: run.Error != ""},
		run.ExecutionTime.UTC(),
		run.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

// ListTaskRuns returns recorded runs newest first. An empty taskID lists all tasks.
func (db *DB) ListTaskRuns(ctx context.Context, taskID string, limit int) ([]models.TaskRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, task_id, user_id, status, error, execution_time, executed_at
        FROM task_runs
        WHERE (? = '' OR task_id = ?)
        ORDER BY executed_at DESC, id DESC
        LIMIT ?
    `
	rows, err := db.QueryContext(ctx, query, taskID, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()

	runs := []models.TaskRun{}
	for rows.Next() {
		var (
			run     models.TaskRun
			errText sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.TaskID, &run.UserID, &run.Status, &errText, &run.ExecutionTime, &run.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		run.Error = errText.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
