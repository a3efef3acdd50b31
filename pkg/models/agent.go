// Package models contains the domain entities shared across the control
// plane: agents, their tasks, alert rules, notification messages, and the
// cached Linear mirror rows.
package models

import "time"

// AgentType distinguishes a top-level worker from a sub-agent spawned by one.
type AgentType string

const (
	AgentTypePrimary  AgentType = "primary"
	AgentTypeSubAgent AgentType = "sub-agent"
)

// AgentStatus is one state in the agent lifecycle machine (spec §4.6.1).
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusWorking  AgentStatus = "working"
	AgentStatusBlocked  AgentStatus = "blocked"
	AgentStatusSleeping AgentStatus = "sleeping"
	AgentStatusOffline  AgentStatus = "offline"
)

// Agent is the identity of a single fleet worker.
type Agent struct {
	ID             string
	Name           string
	Type           AgentType
	ParentAgentID  *string
	Status         AgentStatus
	CurrentTaskID  *string
	LastHeartbeat  *int64 // seconds since epoch
	SoulMD         string
	Skills         []string
	Config         map[string]any
	CreatedAt      time.Time
}

// AgentFilter narrows Store.Agents.List.
type AgentFilter struct {
	Status        *AgentStatus
	Type          *AgentType
	ParentAgentID *string
}
