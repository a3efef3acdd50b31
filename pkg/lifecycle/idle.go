package lifecycle

import (
	"context"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// RefreshHeartbeat implements spec §4.6.7: sets last_heartbeat=now and
// resets the single per-agent idle timer.
func (m *Manager) RefreshHeartbeat(ctx context.Context, agentID string) error {
	return m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		agent.LastHeartbeat = &now
		if err := m.store.Agents.Update(ctx, agent); err != nil {
			return err
		}
		m.startIdleMonitor(agentID)
		return nil
	})
}

// startIdleMonitor (re)schedules the idle watchdog for agentID, cancelling
// any timer already running for it. Synchronized via idleMu, not the
// per-agent lock, so it is safe to call from the timer-fire goroutine too.
func (m *Manager) startIdleMonitor(agentID string) {
	m.idleMu.Lock()
	if h, ok := m.idleTimer[agentID]; ok {
		m.clock.Cancel(h)
	}
	h := m.clock.Schedule(idleTimeout, func() {
		m.onIdleTimerFired(agentID)
	})
	m.idleTimer[agentID] = h
	m.idleMu.Unlock()
}

// stopIdleMonitor cancels the idle watchdog for agentID, if any.
func (m *Manager) stopIdleMonitor(agentID string) {
	m.idleMu.Lock()
	h, ok := m.idleTimer[agentID]
	if ok {
		delete(m.idleTimer, agentID)
	}
	m.idleMu.Unlock()
	if ok {
		m.clock.Cancel(h)
	}
}

// onIdleTimerFired runs on a timer goroutine (outside any agent lock);
// every store access it makes goes through lock-acquiring exported methods
// or its own read, matching the rest of the package's lock discipline.
func (m *Manager) onIdleTimerFired(agentID string) {
	ctx := context.Background()

	agent, err := m.store.Agents.Get(ctx, agentID)
	if err != nil {
		m.log.Error("idle monitor failed to load agent", "error", err, "agent_id", agentID)
		return
	}

	var lastHeartbeat int64
	if agent.LastHeartbeat != nil {
		lastHeartbeat = *agent.LastHeartbeat
	}
	idleFor := time.Now().Unix() - lastHeartbeat

	if agent.Status == models.AgentStatusWorking && idleFor > int64(idleTimeout.Seconds()) && agent.CurrentTaskID != nil {
		if err := m.DetectBlocked(ctx, agentID, BlockParams{
			Source: "idle",
			Reason: "idle too long with in_progress task",
			TaskID: *agent.CurrentTaskID,
		}); err != nil {
			m.log.Error("failed to detect blocked on idle timeout", "error", err, "agent_id", agentID)
		}
		return
	}

	if idleFor > int64(idleTooLongThreshold.Seconds()) {
		pending, err := m.store.AgentTasks.ListByAgent(ctx, agentID)
		if err != nil {
			m.log.Error("idle monitor failed to list tasks", "error", err, "agent_id", agentID)
			return
		}
		var first *models.AgentTask
		for _, t := range pending {
			if t.Status == models.TaskStatusPending {
				first = t
				break
			}
		}
		if first != nil {
			if err := m.alert.ProcessEvent(ctx, models.AlertEvent{
				Trigger:   models.TriggerIdleTooLong,
				AgentID:   agentID,
				TaskID:    first.ID,
				Title:     first.Title,
				Priority:  models.PriorityMedium,
				ProjectID: first.ProjectID,
			}); err != nil {
				m.log.Error("failed to process idle_too_long alert", "error", err, "agent_id", agentID)
			}
		}
	}

	// Otherwise no-op, but reschedule so the watchdog keeps observing this
	// agent until its next heartbeat or a lock-acquiring transition stops it.
	m.idleMu.Lock()
	_, stillTracked := m.idleTimer[agentID]
	m.idleMu.Unlock()
	if stillTracked {
		m.startIdleMonitor(agentID)
	}
}
