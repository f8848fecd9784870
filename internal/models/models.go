package models

import (
	"maps"
	"time"
)

// Outcome is the structured result of one execution callback run.
type Outcome struct {
	Status     string         `json:"status"`
	ExecutedAt time.Time      `json:"executedAt"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Merge layers other on top of o. Non-empty fields of other win; Data keys
// are merged with other's values overwriting on collision.
func (o Outcome) Merge(other Outcome) Outcome {
	out := o
	if other.Status != "" {
		out.Status = other.Status
	}
	if !other.ExecutedAt.IsZero() {
		out.ExecutedAt = other.ExecutedAt
	}
	if other.Error != "" {
		out.Error = other.Error
	}
	if len(other.Data) > 0 {
		merged := make(map[string]any, len(o.Data)+len(other.Data))
		maps.Copy(merged, o.Data)
		maps.Copy(merged, other.Data)
		out.Data = merged
	}
	return out
}

// GetString returns a string value from Data or "" when absent.
func (o Outcome) GetString(key string) string {
	if o.Data == nil {
		return ""
	}
	v, ok := o.Data[key].(string)
	if !ok {
		return ""
	}
	return v
}
