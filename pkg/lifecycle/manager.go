// Package lifecycle is the Lifecycle Manager (spec §4.6): the agent and
// task state machines, the block-detection policies, the heartbeat/idle
// watchdog, the sleep-window schedule, and the cross-agent push throttle.
// All state mutation for a single agent is serialised through a per-agent
// lock keyed by agent ID (spec §5); two-agent operations acquire locks in
// ascending-ID order to preclude deadlock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/alert"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/bus"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/store"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/timer"
)

// idleTimeout is the single-agent heartbeat watchdog period (spec §4.6.7).
const idleTimeout = 300 * time.Second

// idleTooLongThreshold gates the separate "idle_too_long" alert, measured
// from the same heartbeat (spec §4.6.7).
const idleTooLongThreshold = 1800 * time.Second

// Manager is the Lifecycle Manager. Construct with New; call Reconcile once
// after New during process startup (spec §5 "Shared-resource policy").
type Manager struct {
	store *store.Store
	bus   *bus.Bus
	alert *alert.Engine
	clock *timer.Service
	log   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	idleMu    sync.Mutex
	idleTimer map[string]*timer.Handle

	errMu  sync.Mutex
	errors map[errorKey]*errorWindow

	sleep sleepWindow

	throttleMu sync.Mutex
	throttle   map[string]*throttleWindow
}

type errorKey struct {
	AgentID string
	TaskID  string
}

type errorWindow struct {
	windowStart time.Time
	count       int
}

// New wires a Manager. Call Reconcile afterward to rebuild in-memory
// watchdog/alert state from the persisted Store (spec §5).
func New(st *store.Store, b *bus.Bus, ae *alert.Engine, clock *timer.Service) *Manager {
	return &Manager{
		store:     st,
		bus:       b,
		alert:     ae,
		clock:     clock,
		log:       slog.Default().With("component", "lifecycle"),
		locks:     make(map[string]*sync.Mutex),
		idleTimer: make(map[string]*timer.Handle),
		errors:    make(map[errorKey]*errorWindow),
		throttle:  make(map[string]*throttleWindow),
		sleep:     sleepWindow{enabled: false},
	}
}

// lockFor returns the per-agent mutex, creating it on first use.
func (m *Manager) lockFor(agentID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

// withLock acquires agentID's lock for the duration of fn. Exported
// operations use this; private `...Locked` helpers assume the caller
// already holds it and must never call back into a withLock-wrapped method.
func (m *Manager) withLock(agentID string, fn func() error) error {
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// withLocks acquires two agents' locks in ascending-ID order (spec §5) to
// preclude deadlock when a single operation touches both, e.g. a parent
// and sub-agent. Unused today (no operation spans two agents yet) but kept
// for the invariant's documentation value and future multi-agent ops.
func (m *Manager) withLocks(agentA, agentB string, fn func() error) error {
	if agentA == agentB {
		return m.withLock(agentA, fn)
	}
	first, second := agentA, agentB
	if second < first {
		first, second = second, first
	}
	l1, l2 := m.lockFor(first), m.lockFor(second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()
	return fn()
}

// Register creates a new agent in the idle state (spec §4.6.1).
func (m *Manager) Register(ctx context.Context, a *models.Agent) error {
	a.Status = models.AgentStatusIdle
	if err := m.store.Agents.Create(ctx, a); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	return nil
}

// AssignTask implements spec §4.6.3: creates the task pending, moves the
// agent to working, links an optional Linear mirror row best-effort, and
// starts the idle monitor.
func (m *Manager) AssignTask(ctx context.Context, agentID, taskID, title string, priority models.Priority, linearIssueID, projectID *string) (*models.AgentTask, error) {
	var created *models.AgentTask
	err := m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}

		now := time.Now()
		heartbeat := now.Unix()
		task := &models.AgentTask{
			ID:            taskID,
			AgentID:       agentID,
			LinearIssueID: linearIssueID,
			ProjectID:     projectID,
			Title:         title,
			Status:        models.TaskStatusPending,
			Priority:      priority,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		agent.Status = models.AgentStatusWorking
		agent.CurrentTaskID = &task.ID
		agent.LastHeartbeat = &heartbeat

		err = m.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.CreateAgentTask(ctx, task); err != nil {
				return err
			}
			return tx.UpdateAgent(ctx, agent)
		})
		if err != nil {
			return fmt.Errorf("assign task: %w", err)
		}

		if linearIssueID != nil {
			if err := m.linkLinearIssue(ctx, *linearIssueID, task.ID); err != nil {
				m.log.Warn("failed to link linear issue to task", "error", err,
					"linear_issue_id", *linearIssueID, "task_id", task.ID)
			}
		}

		m.startIdleMonitor(agentID)
		m.publishAgentStatus(agentID, "task_assigned")
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// StartTask implements the `pending → in_progress` edge of spec §4.6.2: the
// first transition into in_progress sets started_at. No-op guards mirror
// DetectBlocked's: a task that has already left pending (including a
// terminal one) is untouched rather than silently re-timestamped.
func (m *Manager) StartTask(ctx context.Context, agentID, taskID string) error {
	return m.withLock(agentID, func() error {
		task, err := m.store.AgentTasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AgentID != agentID {
			return apperr.Conflictf("task %s does not belong to agent %s", taskID, agentID)
		}
		if task.Status != models.TaskStatusPending {
			return nil
		}

		now := time.Now()
		startedAt := now.Unix()
		task.Status = models.TaskStatusInProgress
		task.StartedAt = &startedAt
		task.UpdatedAt = now

		if err := m.store.AgentTasks.Update(ctx, task); err != nil {
			return fmt.Errorf("start task: %w", err)
		}
		return nil
	})
}

func (m *Manager) linkLinearIssue(ctx context.Context, linearIssueID, taskID string) error {
	issue, err := m.store.Linear.GetIssue(ctx, linearIssueID)
	if err != nil {
		return err
	}
	issue.AgentTaskID = &taskID
	return m.store.Linear.UpsertIssue(ctx, issue)
}

// RecordError implements spec §4.6.4. It must not hold the agent lock
// while calling DetectBlocked/TriggerSleep — both acquire it themselves —
// so the sliding-window bookkeeping uses its own mutex, and the
// lock-acquiring escalations happen after that mutex is released.
func (m *Manager) RecordError(ctx context.Context, agentID, taskID string) (bool, error) {
	key := errorKey{AgentID: agentID, TaskID: taskID}
	now := time.Now()

	m.errMu.Lock()
	w, ok := m.errors[key]
	if !ok || now.Sub(w.windowStart) > 600*time.Second {
		w = &errorWindow{windowStart: now, count: 0}
		m.errors[key] = w
	}
	w.count++
	count := w.count
	m.errMu.Unlock()

	switch {
	case count == 5:
		// §4.6.4 names detectBlocked only for the 3rd error; the 5th error
		// additionally triggerSleep, it does not re-run detectBlocked.
		if err := m.TriggerSleep(ctx, agentID, "error_threshold"); err != nil {
			return false, err
		}
		return true, nil
	case count == 3:
		if err := m.DetectBlocked(ctx, agentID, BlockParams{Source: "repeated_errors", Reason: "repeated errors", TaskID: taskID}); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// BlockParams names why an agent/task is being blocked (spec §4.6.5).
type BlockParams struct {
	Source string // explicit, question, repeated_errors, idle, resource_denied
	Reason string
	TaskID string
}

// DetectBlocked implements spec §4.6.5.
func (m *Manager) DetectBlocked(ctx context.Context, agentID string, params BlockParams) error {
	return m.withLock(agentID, func() error {
		task, err := m.store.AgentTasks.Get(ctx, params.TaskID)
		if err != nil {
			if isNotFound(err) {
				return nil // precondition: task must exist, else no-op
			}
			return err
		}
		// §4.6.2 invariant #2: never leave a terminal status. A completed
		// or cancelled task's id must no-op here, not resurrect into blocked.
		if task.Status.IsTerminal() {
			return nil
		}

		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}

		now := time.Now()
		blockedAt := now.Unix()
		blockedReason := fmt.Sprintf("[%s] %s", params.Source, params.Reason)
		task.Status = models.TaskStatusBlocked
		task.BlockedReason = &blockedReason
		task.BlockedAt = &blockedAt
		task.UpdatedAt = now

		agent.Status = models.AgentStatusBlocked
		agent.CurrentTaskID = &task.ID

		err = m.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.UpdateAgentTask(ctx, task); err != nil {
				return err
			}
			return tx.UpdateAgent(ctx, agent)
		})
		if err != nil {
			return fmt.Errorf("detect blocked: %w", err)
		}

		if err := m.alert.ProcessEvent(ctx, models.AlertEvent{
			Trigger:   models.TriggerBlocked,
			AgentID:   agentID,
			TaskID:    task.ID,
			Title:     task.Title,
			Priority:  task.Priority,
			Reason:    params.Reason,
			ProjectID: task.ProjectID,
		}); err != nil {
			m.log.Error("failed to process blocked alert", "error", err, "agent_id", agentID, "task_id", task.ID)
		}

		m.publishAgentStatus(agentID, "blocked")
		m.alert.CancelPendingAlertsForTrigger(agentID, task.ID, models.TriggerCompleted)
		return nil
	})
}

// TriggerSleep implements the `triggerSleep(reason)` edge of spec §4.6.1:
// any non-terminal status → sleeping; no-op if already sleeping or offline.
func (m *Manager) TriggerSleep(ctx context.Context, agentID, reason string) error {
	return m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status == models.AgentStatusSleeping || agent.Status == models.AgentStatusOffline {
			return nil
		}
		agent.Status = models.AgentStatusSleeping
		if err := m.store.Agents.Update(ctx, agent); err != nil {
			return fmt.Errorf("trigger sleep: %w", err)
		}
		m.publishAgentStatusWithReason(agentID, "sleeping", reason)
		return nil
	})
}

// TriggerWake implements the `triggerWake` edge: sleeping → idle, no-op
// otherwise.
func (m *Manager) TriggerWake(ctx context.Context, agentID string) error {
	return m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != models.AgentStatusSleeping {
			return nil
		}
		agent.Status = models.AgentStatusIdle
		if err := m.store.Agents.Update(ctx, agent); err != nil {
			return fmt.Errorf("trigger wake: %w", err)
		}
		m.publishAgentStatus(agentID, "idle")
		return nil
	})
}

// Unblock implements the `unblock` action of spec §8 scenario 2: the
// agent's blocked task resumes `in_progress`, `blocked_reason`/`blocked_at`
// clear, the agent returns to `working`, and any alerts still pending for
// that `(agentId,taskId)` are cancelled (cancelPendingAlerts; 0 if nothing
// is pending — it is idempotent). No-op if the agent isn't blocked.
func (m *Manager) Unblock(ctx context.Context, agentID string) error {
	return m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != models.AgentStatusBlocked || agent.CurrentTaskID == nil {
			return nil
		}
		taskID := *agent.CurrentTaskID

		task, err := m.store.AgentTasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusBlocked {
			return nil
		}

		task.Status = models.TaskStatusInProgress
		task.BlockedReason = nil
		task.BlockedAt = nil
		task.UpdatedAt = time.Now()

		agent.Status = models.AgentStatusWorking

		err = m.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.UpdateAgentTask(ctx, task); err != nil {
				return err
			}
			return tx.UpdateAgent(ctx, agent)
		})
		if err != nil {
			return fmt.Errorf("unblock: %w", err)
		}

		m.alert.CancelPendingAlerts(agentID, &taskID)
		m.publishAgentStatus(agentID, "unblocked")
		return nil
	})
}

// CompleteTask implements spec §4.6.8.
func (m *Manager) CompleteTask(ctx context.Context, agentID, taskID string) error {
	return m.withLock(agentID, func() error {
		task, err := m.store.AgentTasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AgentID != agentID {
			return apperr.Conflictf("task %s does not belong to agent %s", taskID, agentID)
		}
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}

		now := time.Now()
		completedAt := now.Unix()
		task.Status = models.TaskStatusCompleted
		task.CompletedAt = &completedAt
		task.UpdatedAt = now

		pending, err := m.pendingTasksLocked(ctx, agentID, taskID)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			agent.CurrentTaskID = nil
			if m.sleep.isInWindow(now) {
				agent.Status = models.AgentStatusSleeping
			} else {
				agent.Status = models.AgentStatusIdle
			}
		} else {
			agent.CurrentTaskID = nil
			agent.Status = models.AgentStatusWorking
		}

		err = m.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.UpdateAgentTask(ctx, task); err != nil {
				return err
			}
			return tx.UpdateAgent(ctx, agent)
		})
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}

		m.stopIdleMonitor(agentID)
		m.alert.CancelPendingAlertsForTrigger(agentID, taskID, models.TriggerBlocked)

		if err := m.alert.ProcessEvent(ctx, models.AlertEvent{
			Trigger:   models.TriggerCompleted,
			AgentID:   agentID,
			TaskID:    taskID,
			Title:     task.Title,
			Priority:  task.Priority,
			ProjectID: task.ProjectID,
		}); err != nil {
			m.log.Error("failed to process completed alert", "error", err, "agent_id", agentID, "task_id", taskID)
		}

		m.publishAgentStatus(agentID, "task_completed")
		return nil
	})
}

// pendingTasksLocked lists an agent's non-terminal tasks other than
// excludeTaskID. Caller must already hold the agent lock; it only reads,
// so it runs before any WithTx it feeds into (§5's read-before-transaction
// rule for the single-connection SQLite store).
func (m *Manager) pendingTasksLocked(ctx context.Context, agentID, excludeTaskID string) ([]*models.AgentTask, error) {
	all, err := m.store.AgentTasks.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	var pending []*models.AgentTask
	for _, t := range all {
		if t.ID == excludeTaskID {
			continue
		}
		if !t.Status.IsTerminal() {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// Stop implements the admin `stop` edge: any → offline, cancelling
// in-progress tasks to cancelled (spec §4.6.1).
func (m *Manager) Stop(ctx context.Context, agentID string) error {
	return m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		tasks, err := m.store.AgentTasks.ListByAgent(ctx, agentID)
		if err != nil {
			return err
		}

		now := time.Now()
		var toCancel []*models.AgentTask
		for _, t := range tasks {
			if !t.Status.IsTerminal() {
				t.Status = models.TaskStatusCancelled
				t.UpdatedAt = now
				toCancel = append(toCancel, t)
			}
		}

		agent.Status = models.AgentStatusOffline

		err = m.store.WithTx(ctx, func(tx *store.Tx) error {
			for _, t := range toCancel {
				if err := tx.UpdateAgentTask(ctx, t); err != nil {
					return err
				}
			}
			return tx.UpdateAgent(ctx, agent)
		})
		if err != nil {
			return fmt.Errorf("stop agent: %w", err)
		}

		m.stopIdleMonitor(agentID)
		m.publishAgentStatus(agentID, "stopped")
		return nil
	})
}

// Restart implements the admin `restart` edge: any → idle, current_task_id
// cleared (spec §4.6.1).
func (m *Manager) Restart(ctx context.Context, agentID string) error {
	return m.withLock(agentID, func() error {
		agent, err := m.store.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		agent.Status = models.AgentStatusIdle
		agent.CurrentTaskID = nil
		if err := m.store.Agents.Update(ctx, agent); err != nil {
			return fmt.Errorf("restart agent: %w", err)
		}
		m.publishAgentStatus(agentID, "restarted")
		return nil
	})
}

func (m *Manager) publishAgentStatus(agentID, action string) {
	m.bus.Publish(models.DashboardEvent{
		Type: models.EventAgentStatus,
		Payload: map[string]any{
			"agent_id": agentID,
			"action":   action,
		},
		TimestampMS: time.Now().UnixMilli(),
	})
}

func (m *Manager) publishAgentStatusWithReason(agentID, action, reason string) {
	m.bus.Publish(models.DashboardEvent{
		Type: models.EventAgentStatus,
		Payload: map[string]any{
			"agent_id": agentID,
			"action":   action,
			"reason":   reason,
		},
		TimestampMS: time.Now().UnixMilli(),
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}

// sortedAgentIDs is a small helper used by Reconcile to make startup
// iteration order deterministic (useful for tests and for readable logs),
// not a correctness requirement of §5.
func sortedAgentIDs(agents []*models.Agent) []string {
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}
