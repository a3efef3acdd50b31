package models

// LinearProject is a cached mirror row of an external Linear project.
type LinearProject struct {
	ID   string
	Name string
}

// LinearIssue is a cached mirror row of an external Linear issue. The only
// field with control-plane semantics is AgentTaskID, linking the mirror row
// to an AgentTask once auto-assignment (or a manual link) has occurred.
type LinearIssue struct {
	ID            string
	Title         string
	Priority      int
	StateType     string
	StateName     string
	AssigneeName  string
	ProjectID     *string
	AgentTaskID   *string
}

// LinearWorkflowState caches a workflow-state row (e.g. "started", "done").
type LinearWorkflowState struct {
	ID   string
	Name string
	Type string
}
