package models

import "time"

// TaskStatus is one state in the AgentTask lifecycle machine (spec §4.6.2).
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal, monotone state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Priority is the urgency of a task, used to select Alert Engine rules.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// AgentTask is a single unit of work owned by exactly one Agent.
type AgentTask struct {
	ID             string
	AgentID        string
	LinearIssueID  *string
	ProjectID      *string
	Title          string
	Status         TaskStatus
	Priority       Priority
	BlockedReason  *string
	BlockedAt      *int64
	StartedAt      *int64
	CompletedAt    *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
