package models

import "time"

// Task is a snapshot of one scheduled, at-most-once execution.
// The live timer handle never leaves the scheduler's store.
type Task struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	ExecutionTime time.Time  `json:"executionTime"`
	CreatedAt     time.Time  `json:"createdAt"`
	State         string     `json:"state"`
	IsExecuted    bool       `json:"isExecuted"`
	ExecutedAt    *time.Time `json:"executedAt,omitempty"`
	LastRunTime   *time.Time `json:"lastRunTime,omitempty"`
}

// Pending reports whether the task still waits for its timer and may be cancelled.
func (t Task) Pending() bool {
	return t.State == TaskPending
}

// ScheduleRecord is one desired execution as reported by the schedule source.
type ScheduleRecord struct {
	ID     string    `json:"_id"`
	UserID string    `json:"userId"`
	Time   time.Time `json:"time"`
}

// TaskRun is the persisted outcome of one fire.
type TaskRun struct {
	ID            int64     `json:"id"`
	TaskID        string    `json:"taskId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	ExecutionTime time.Time `json:"executionTime"`
	ExecutedAt    time.Time `json:"executedAt"`
}

// ReconcileResult summarizes one reconciliation cycle.
type ReconcileResult struct {
	Fetched     int  `json:"fetched"`
	Admitted    int  `json:"admitted"`
	Evicted     int  `json:"evicted"`
	Removed     int  `json:"removed"`
	Skipped     int  `json:"skipped"`
	Cleared     bool `json:"cleared"`
	FetchFailed bool `json:"fetchFailed"`
}
