package api

import "github.com/Keeeeeeeks/opencode-dashboard/pkg/models"

// ErrorResponse is the body of every non-2xx response (spec §6 "Response
// contract").
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AgentResponse is the wire shape of a models.Agent.
type AgentResponse struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	ParentAgentID *string        `json:"parent_agent_id,omitempty"`
	Status        string         `json:"status"`
	CurrentTaskID *string        `json:"current_task_id,omitempty"`
	LastHeartbeat *int64         `json:"last_heartbeat,omitempty"`
	SoulMD        string         `json:"soul_md,omitempty"`
	Skills        []string       `json:"skills,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
	CreatedAt     int64          `json:"created_at"`
}

func toAgentResponse(a *models.Agent) *AgentResponse {
	return &AgentResponse{
		ID:            a.ID,
		Name:          a.Name,
		Type:          string(a.Type),
		ParentAgentID: a.ParentAgentID,
		Status:        string(a.Status),
		CurrentTaskID: a.CurrentTaskID,
		LastHeartbeat: a.LastHeartbeat,
		SoulMD:        a.SoulMD,
		Skills:        a.Skills,
		Config:        a.Config,
		CreatedAt:     a.CreatedAt.Unix(),
	}
}

func toAgentResponses(agents []*models.Agent) []*AgentResponse {
	out := make([]*AgentResponse, len(agents))
	for i, a := range agents {
		out[i] = toAgentResponse(a)
	}
	return out
}

// AgentTaskResponse is the wire shape of a models.AgentTask.
type AgentTaskResponse struct {
	ID            string  `json:"id"`
	AgentID       string  `json:"agent_id"`
	LinearIssueID *string `json:"linear_issue_id,omitempty"`
	ProjectID     *string `json:"project_id,omitempty"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	BlockedReason *string `json:"blocked_reason,omitempty"`
	BlockedAt     *int64  `json:"blocked_at,omitempty"`
	StartedAt     *int64  `json:"started_at,omitempty"`
	CompletedAt   *int64  `json:"completed_at,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

func toTaskResponse(t *models.AgentTask) *AgentTaskResponse {
	return &AgentTaskResponse{
		ID:            t.ID,
		AgentID:       t.AgentID,
		LinearIssueID: t.LinearIssueID,
		ProjectID:     t.ProjectID,
		Title:         t.Title,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		BlockedReason: t.BlockedReason,
		BlockedAt:     t.BlockedAt,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
		CreatedAt:     t.CreatedAt.Unix(),
		UpdatedAt:     t.UpdatedAt.Unix(),
	}
}

func toTaskResponses(tasks []*models.AgentTask) []*AgentTaskResponse {
	out := make([]*AgentTaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}

// MessageResponse is the wire shape of a models.Message.
type MessageResponse struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	ProjectID *string `json:"project_id,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt int64  `json:"created_at"`
}

func toMessageResponse(m *models.Message) *MessageResponse {
	return &MessageResponse{
		ID:        m.ID,
		Type:      m.Type,
		Content:   m.Content,
		ProjectID: m.ProjectID,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func toMessageResponses(msgs []*models.Message) []*MessageResponse {
	out := make([]*MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageResponse(m)
	}
	return out
}

// RecordErrorResponse is returned by POST /api/agents/{id}/error.
type RecordErrorResponse struct {
	Triggered bool `json:"triggered"`
}

// ActionResponse is returned by POST /api/agents/{id}/actions.
type ActionResponse struct {
	Status string `json:"status"`
}

// SleepScheduleResponse is the wire shape of models.SleepSchedule.
type SleepScheduleResponse struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
	Enabled   bool   `json:"enabled"`
}

func toSleepScheduleResponse(s models.SleepSchedule) *SleepScheduleResponse {
	return &SleepScheduleResponse{
		StartHour: s.StartHour,
		EndHour:   s.EndHour,
		Timezone:  s.Timezone,
		Enabled:   s.Enabled,
	}
}
