package lifecycle

import (
	"context"
	"fmt"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// Reconcile rebuilds process-local watchdog and alert-pending state from
// the persisted Store after a crash or restart (spec §5 "Shared-resource
// policy"): every working agent gets a fresh idle monitor, and every
// blocked task gets a zero-delay re-evaluation of its blocked alerts,
// delivered at once. At-least-once notification semantics are accepted here.
func (m *Manager) Reconcile(ctx context.Context) error {
	working := models.AgentStatusWorking
	workingAgents, err := m.store.Agents.List(ctx, models.AgentFilter{Status: &working})
	if err != nil {
		return fmt.Errorf("reconcile: list working agents: %w", err)
	}
	for _, id := range sortedAgentIDs(workingAgents) {
		m.startIdleMonitor(id)
		m.log.Info("reconcile: started idle monitor", "agent_id", id)
	}

	blockedTasks, err := m.listBlockedTasks(ctx, workingAgents)
	if err != nil {
		return fmt.Errorf("reconcile: list blocked tasks: %w", err)
	}
	for _, t := range blockedTasks {
		if err := m.alert.ProcessEventImmediate(ctx, models.AlertEvent{
			Trigger:   models.TriggerBlocked,
			AgentID:   t.AgentID,
			TaskID:    t.ID,
			Title:     t.Title,
			Priority:  t.Priority,
			ProjectID: t.ProjectID,
		}); err != nil {
			m.log.Error("reconcile: failed to re-seed blocked alert", "error", err, "task_id", t.ID)
		}
	}
	return nil
}

// listBlockedTasks scans every agent's tasks for blocked ones. It isn't
// limited to workingAgents — a blocked task belongs to an agent in
// `blocked` status, not `working` — so it lists all agents independently.
func (m *Manager) listBlockedTasks(ctx context.Context, _ []*models.Agent) ([]*models.AgentTask, error) {
	all, err := m.store.Agents.List(ctx, models.AgentFilter{})
	if err != nil {
		return nil, err
	}
	var blocked []*models.AgentTask
	for _, a := range all {
		tasks, err := m.store.AgentTasks.ListByAgent(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.Status == models.TaskStatusBlocked {
				blocked = append(blocked, t)
			}
		}
	}
	return blocked, nil
}
