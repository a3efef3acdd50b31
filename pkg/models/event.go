package models

// DashboardEventType enumerates the bus event types a Stream Gateway
// client can observe (spec §4.3).
type DashboardEventType string

const (
	EventTodoUpdated     DashboardEventType = "todo:updated"
	EventTodoCreated     DashboardEventType = "todo:created"
	EventTodoDeleted     DashboardEventType = "todo:deleted"
	EventMessageCreated  DashboardEventType = "message:created"
	EventSprintUpdated   DashboardEventType = "sprint:updated"
	EventSprintCreated   DashboardEventType = "sprint:created"
	EventAgentStatus     DashboardEventType = "agent:status"
	EventProjectUpdated  DashboardEventType = "project:updated"
)

// DashboardEvent is the payload published on the Event Bus and fanned out
// to Stream Gateway clients (spec §4.3).
type DashboardEvent struct {
	Type        DashboardEventType `json:"type"`
	Payload     any                `json:"payload"`
	TimestampMS int64              `json:"timestamp_ms"`
}
