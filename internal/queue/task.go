package queue

import (
	"time"
)

// TaskKind classifies a durable task.
type TaskKind string

const (
	// TaskWindow fires one dispatch window of a campaign.
	TaskWindow TaskKind = "window"
	// TaskWinner closes an A/B test and sends the winner to the remainder.
	TaskWinner TaskKind = "winner"
)

// TaskStatus represents the status of a task in the store
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusRunning TaskStatus = "running"
)

// Task is one unit of deferred campaign work. Tasks survive restarts; the
// runner picks them up by due time.
type Task struct {
	ID         string   `json:"id"`
	Kind       TaskKind `json:"kind"`
	CampaignID string   `json:"campaign_id"`
	SalonID    string   `json:"salon_id"`
	// ActorID is who initiated the send; it travels with the task so
	// deferred work runs under the same identity.
	ActorID string `json:"actor_id"`

	// Occurrence and Batch locate a window task within the dispatch plan.
	Occurrence int `json:"occurrence,omitempty"`
	Batch      int `json:"batch,omitempty"`
	// From and To bound the recipient slice of a window task (To exclusive).
	From int `json:"from,omitempty"`
	To   int `json:"to,omitempty"`

	RunAt      time.Time  `json:"run_at"`
	Status     TaskStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Stats represents task store statistics
type Stats struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
	Total   int64 `json:"total"`
}
