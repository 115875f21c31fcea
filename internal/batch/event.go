package batch

import "time"

// EventType names a step of a run.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventJobFinished EventType = "job_finished"
	EventRunFinished EventType = "run_finished"
)

// Event reports progress of a run to observers such as the run ledger and
// the SSE broker.
type Event struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id"`
	Source      string    `json:"source,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ObjectiveID string    `json:"objective_id,omitempty"`
	Value       float64   `json:"value,omitempty"`
	OK          bool      `json:"ok,omitempty"`
	Total       int       `json:"total,omitempty"`
	Completed   int       `json:"completed,omitempty"`
	Skipped     int       `json:"skipped,omitempty"`
	Time        time.Time `json:"time"`
}
