package models

import "time"

// Schedule is the persisted desired-execution record served to the reconciler.
type Schedule struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId"`
	Time      time.Time `json:"time"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Record converts the stored schedule into the reconciler's view.
func (s Schedule) Record() ScheduleRecord {
	return ScheduleRecord{ID: s.ID, UserID: s.UserID, Time: s.Time}
}
