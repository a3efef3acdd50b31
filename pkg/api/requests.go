package api

// RegisterAgentRequest is the body of POST /api/agents.
type RegisterAgentRequest struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	ParentAgentID *string        `json:"parent_agent_id,omitempty"`
	SoulMD        string         `json:"soul_md,omitempty"`
	Skills        []string       `json:"skills,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// UpdateAgentRequest is the body of PATCH /api/agents/{id}. Every field is
// optional; only non-nil fields are applied.
type UpdateAgentRequest struct {
	Name   *string        `json:"name,omitempty"`
	SoulMD *string        `json:"soul_md,omitempty"`
	Skills []string       `json:"skills,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// CreateTaskRequest is the body of POST /api/agents/{id}/tasks and
// POST /api/agents/{id}/assign — both go through assignTask (spec §4.6.3).
type CreateTaskRequest struct {
	TaskID        string  `json:"taskId"`
	Title         string  `json:"title"`
	Priority      string  `json:"priority,omitempty"`
	LinearIssueID *string `json:"linearIssueId,omitempty"`
	ProjectID     *string `json:"projectId,omitempty"`
}

// UpdateTaskRequest is the body of PATCH /api/agents/{id}/tasks/{taskId}.
// Status transitions trigger the corresponding §4.6 lifecycle behaviour
// rather than a raw field write.
type UpdateTaskRequest struct {
	Status *string `json:"status,omitempty"`
	Title  *string `json:"title,omitempty"`
}

// BlockRequest is the body of POST /api/agents/{id}/block.
type BlockRequest struct {
	TaskID string `json:"taskId"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// TaskIDRequest is the body of POST /api/agents/{id}/error and
// POST /api/agents/{id}/complete.
type TaskIDRequest struct {
	TaskID string `json:"taskId"`
}

// ActionRequest is the body of POST /api/agents/{id}/actions.
type ActionRequest struct {
	Action string `json:"action"`
}

// SleepScheduleRequest is the body of PUT /api/settings/sleep-schedule.
type SleepScheduleRequest struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
	Enabled   bool   `json:"enabled"`
}
