package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// AgentTaskStore persists AgentTask rows (spec §3, §4.2).
type AgentTaskStore struct {
	db *sql.DB
}

const agentTaskColumns = `id, agent_id, linear_issue_id, project_id, title, status,
	priority, blocked_reason, blocked_at, started_at, completed_at, created_at, updated_at`

func scanAgentTask(row interface {
	Scan(dest ...any) error
}) (*models.AgentTask, error) {
	var t models.AgentTask
	var linearIssueID, projectID, blockedReason sql.NullString
	var blockedAt, startedAt, completedAt sql.NullInt64
	var createdAt, updatedAt string

	if err := row.Scan(
		&t.ID, &t.AgentID, &linearIssueID, &projectID, &t.Title, &t.Status,
		&t.Priority, &blockedReason, &blockedAt, &startedAt, &completedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if linearIssueID.Valid {
		t.LinearIssueID = &linearIssueID.String
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if blockedReason.Valid {
		t.BlockedReason = &blockedReason.String
	}
	if blockedAt.Valid {
		t.BlockedAt = &blockedAt.Int64
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Int64
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	t.CreatedAt = ts
	us, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	t.UpdatedAt = us
	return &t, nil
}

// Get returns the task with id, or apperr.ErrNotFound.
func (s *AgentTaskStore) Get(ctx context.Context, id string) (*models.AgentTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentTaskColumns+` FROM agent_tasks WHERE id = ?`, id)
	t, err := scanAgentTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("task %s", id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListByAgent returns every task owned by agentID, most recently created first.
func (s *AgentTaskStore) ListByAgent(ctx context.Context, agentID string) ([]*models.AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentTaskColumns+` FROM agent_tasks
		WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for agent: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentTask
	for rows.Next() {
		t, err := scanAgentTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a new task.
func (s *AgentTaskStore) Create(ctx context.Context, t *models.AgentTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (id, agent_id, linear_issue_id, project_id, title, status,
			priority, blocked_reason, blocked_at, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.LinearIssueID, t.ProjectID, t.Title, t.Status,
		t.Priority, t.BlockedReason, t.BlockedAt, t.StartedAt, t.CompletedAt,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert agent task: %w", err)
	}
	return nil
}

// Update persists the full mutable row. Callers (pkg/lifecycle) are
// responsible for state-machine legality; the Store enforces only
// existence.
func (s *AgentTaskStore) Update(ctx context.Context, t *models.AgentTask) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks SET title = ?, status = ?, priority = ?, blocked_reason = ?,
			blocked_at = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Status, t.Priority, t.BlockedReason, t.BlockedAt, t.StartedAt,
		t.CompletedAt, t.UpdatedAt.Format(time.RFC3339Nano), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent task: %w", err)
	}
	return requireRowsAffected(res, "task", t.ID)
}

// CreateAgentTask is Create run inside an existing transaction, for
// AssignTask's compound create-task+update-agent write (spec §4.6.3).
func (tx *Tx) CreateAgentTask(ctx context.Context, t *models.AgentTask) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO agent_tasks (id, agent_id, linear_issue_id, project_id, title, status,
			priority, blocked_reason, blocked_at, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.LinearIssueID, t.ProjectID, t.Title, t.Status,
		t.Priority, t.BlockedReason, t.BlockedAt, t.StartedAt, t.CompletedAt,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert agent task: %w", err)
	}
	return nil
}

// UpdateAgentTask is Update run inside an existing transaction, for the
// compound task+agent writes in spec §4.6.
func (tx *Tx) UpdateAgentTask(ctx context.Context, t *models.AgentTask) error {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE agent_tasks SET title = ?, status = ?, priority = ?, blocked_reason = ?,
			blocked_at = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Status, t.Priority, t.BlockedReason, t.BlockedAt, t.StartedAt,
		t.CompletedAt, t.UpdatedAt.Format(time.RFC3339Nano), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent task: %w", err)
	}
	return requireRowsAffected(res, "task", t.ID)
}

// UpdateAgent writes an agent's status, current task and heartbeat inside
// an existing transaction; unlike AgentStore.Update it leaves the other
// columns unchanged.
func (tx *Tx) UpdateAgent(ctx context.Context, a *models.Agent) error {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE agents SET status = ?, current_task_id = ?, last_heartbeat = ?
		WHERE id = ?`,
		a.Status, a.CurrentTaskID, a.LastHeartbeat, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return requireRowsAffected(res, "agent", a.ID)
}

// Delete removes a task.
func (s *AgentTaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent task: %w", err)
	}
	return requireRowsAffected(res, "task", id)
}
