package models

import "time"

// Scheduled event status values
const (
	ScheduleStatusActive    = "active"
	ScheduleStatusPaused    = "paused"
	ScheduleStatusCompleted = "completed"
)

// Schedule describes when a scheduled event fires. A nil Schedule on a
// ScheduledEvent means one-shot: fire once, then complete.
type Schedule struct {
	Cron      string     `json:"cron"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Timezone  string     `json:"timezone,omitempty"`
}

// ScheduledEvent fires a trigger node on a cron schedule or on demand.
type ScheduledEvent struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	WorkflowID string                 `json:"workflow_id"`
	NodeID     string                 `json:"node_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Schedule   *Schedule              `json:"schedule,omitempty"`
	Status     string                 `json:"status"`
	LastRun    *time.Time             `json:"last_run,omitempty"`
	NextRun    *time.Time             `json:"next_run,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
