package models

import "time"

// Trigger is the kind of lifecycle condition an AlertRule matches against.
type Trigger string

const (
	TriggerBlocked      Trigger = "blocked"
	TriggerError        Trigger = "error"
	TriggerCompleted    Trigger = "completed"
	TriggerIdleTooLong  Trigger = "idle_too_long"
	TriggerStaleTask    Trigger = "stale_task"
)

// PriorityFilter matches a Trigger's priority, or "all".
type PriorityFilter string

const (
	PriorityFilterHigh   PriorityFilter = "high"
	PriorityFilterMedium PriorityFilter = "medium"
	PriorityFilterLow    PriorityFilter = "low"
	PriorityFilterAll    PriorityFilter = "all"
)

// Channel is the delivery channel for a Message.
type Channel string

const (
	ChannelPush   Channel = "push"
	ChannelInApp  Channel = "in_app"
	ChannelBoth   Channel = "both"
)

// AlertRule is a declarative notification policy (spec §3).
type AlertRule struct {
	ID             string
	Trigger        Trigger
	PriorityFilter PriorityFilter
	DelayMS        int64
	Channel        Channel
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Matches reports whether the rule applies to an event of the given
// trigger and priority.
func (r AlertRule) Matches(trigger Trigger, priority Priority) bool {
	if !r.Enabled || r.Trigger != trigger {
		return false
	}
	if r.PriorityFilter == PriorityFilterAll {
		return true
	}
	return string(r.PriorityFilter) == string(priority)
}

// AlertEvent is the input to the Alert Engine (spec §4.4).
type AlertEvent struct {
	Trigger   Trigger
	AgentID   string
	TaskID    string
	Title     string
	Priority  Priority
	Reason    string
	ProjectID *string
}

// Message is a persisted notification (spec §3). Content is plaintext in
// this struct; pkg/crypto seals/opens it at the Store boundary.
type Message struct {
	ID        int64
	Type      string
	Content   string
	TodoID    *string
	SessionID *string
	ProjectID *string
	Read      bool
	CreatedAt int64
}

// MessageFilter narrows Store.Messages.List.
type MessageFilter struct {
	Read      *bool
	ProjectID *string
	Limit     int
}
