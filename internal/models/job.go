// Package models contains the core domain types shared across every
// component: jobs, conversations, messages, and the block taxonomy
// rendered inside assistant messages.
package models

import "time"

// JobType is the closed set of work a Job can represent.
type JobType string

// Known job types. The set is extensible but callers should treat an
// unrecognized value as a bad_input error rather than silently proceeding.
const (
	JobTypeAssistantResponse JobType = "assistant_response"
	JobTypeChartBuild        JobType = "chart_build"
)

// JobStatus is a Job's lifecycle state. Transitions form a DAG with
// Queued as the only initial state and Completed/Failed as the only
// terminal states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusStarted   JobStatus = "started"
	JobStatusProgress  JobStatus = "progress"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether status is one of the DAG's terminal states.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// validNextStatus enumerates the DAG edges: queued -> started ->
// progress* -> (completed|failed). progress may repeat and may also
// transition directly to a terminal state.
var validNextStatus = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusStarted:   true,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusStarted: {
		JobStatusProgress:  true,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusProgress: {
		JobStatusProgress:  true,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
}

// CanTransition reports whether next is a legal follow-on status to from.
func CanTransition(from, next JobStatus) bool {
	if from.Terminal() {
		return false
	}
	return validNextStatus[from][next]
}

// Job is a tracked unit of background work with a durable lifecycle.
type Job struct {
	ID             string         `json:"id"`
	Type           JobType        `json:"type"`
	Params         map[string]any `json:"params"` // opaque, immutable after create
	Status         JobStatus      `json:"status"`
	Progress       int            `json:"progress"` // 0-100, monotonic non-decreasing
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"` // optional conversation link
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// JobTransition is a requested change to a Job's lifecycle fields.
// Only the fields relevant to the target status need be set.
type JobTransition struct {
	Status   JobStatus
	Progress *int
	Result   map[string]any
	Error    string
}
