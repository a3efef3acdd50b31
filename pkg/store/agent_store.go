package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// AgentStore persists Agent rows (spec §3, §4.2).
type AgentStore struct {
	db *sql.DB
}

func scanAgent(row interface {
	Scan(dest ...any) error
}) (*models.Agent, error) {
	var a models.Agent
	var parentID, currentTaskID, blockedReason sql.NullString
	var lastHeartbeat sql.NullInt64
	var skillsJSON, configJSON string
	var createdAt string
	_ = blockedReason

	if err := row.Scan(
		&a.ID, &a.Name, &a.Type, &parentID, &a.Status, &currentTaskID,
		&lastHeartbeat, &a.SoulMD, &skillsJSON, &configJSON, &createdAt,
	); err != nil {
		return nil, err
	}

	if parentID.Valid {
		a.ParentAgentID = &parentID.String
	}
	if currentTaskID.Valid {
		a.CurrentTaskID = &currentTaskID.String
	}
	if lastHeartbeat.Valid {
		a.LastHeartbeat = &lastHeartbeat.Int64
	}
	if err := json.Unmarshal([]byte(skillsJSON), &a.Skills); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &a.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	a.CreatedAt = ts
	return &a, nil
}

const agentColumns = `id, name, type, parent_agent_id, status, current_task_id,
	last_heartbeat, soul_md, skills, config, created_at`

// Get returns the agent with id, or apperr.ErrNotFound.
func (s *AgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("agent %s", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns agents matching filter, ordered by created_at ascending.
func (s *AgentStore) List(ctx context.Context, filter models.AgentFilter) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		query += ` AND type = ?`
		args = append(args, *filter.Type)
	}
	if filter.ParentAgentID != nil {
		query += ` AND parent_agent_id = ?`
		args = append(args, *filter.ParentAgentID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new agent. If parentAgentID is set, Create walks the
// ancestor chain to reject a cycle (spec §3: sub-agent fleets form a
// tree, never a cycle).
func (s *AgentStore) Create(ctx context.Context, a *models.Agent) error {
	if a.ParentAgentID != nil {
		if err := s.checkNoCycle(ctx, a.ID, *a.ParentAgentID); err != nil {
			return err
		}
	}

	skillsJSON, err := json.Marshal(a.Skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	if a.Config == nil {
		a.Config = map[string]any{}
	}
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, type, parent_agent_id, status, current_task_id,
			last_heartbeat, soul_md, skills, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Type, a.ParentAgentID, a.Status, a.CurrentTaskID,
		a.LastHeartbeat, a.SoulMD, string(skillsJSON), string(configJSON),
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// checkNoCycle walks parentID's ancestor chain; returns apperr.ErrConflict
// if newID already appears in it (would close a cycle).
func (s *AgentStore) checkNoCycle(ctx context.Context, newID, parentID string) error {
	cursor := parentID
	for depth := 0; depth < 10_000; depth++ {
		if cursor == newID {
			return apperr.Conflictf("agent %s cannot be its own ancestor", newID)
		}
		var next sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT parent_agent_id FROM agents WHERE id = ?`, cursor).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk ancestor chain: %w", err)
		}
		if !next.Valid {
			return nil
		}
		cursor = next.String
	}
	return apperr.Conflictf("agent %s: ancestor chain too deep, likely corrupt", newID)
}

// Update persists mutable agent fields (status, current task, heartbeat).
func (s *AgentStore) Update(ctx context.Context, a *models.Agent) error {
	skillsJSON, err := json.Marshal(a.Skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, status = ?, current_task_id = ?,
			last_heartbeat = ?, soul_md = ?, skills = ?, config = ?
		WHERE id = ?`,
		a.Name, a.Status, a.CurrentTaskID, a.LastHeartbeat, a.SoulMD,
		string(skillsJSON), string(configJSON), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return requireRowsAffected(res, "agent", a.ID)
}

// Delete removes an agent and its tasks in one transaction. Callers must
// have already reparented or removed its sub-agents; the parent_agent_id
// foreign key fails the delete while any still reference it.
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete agent: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_tasks WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("delete agent tasks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if err := requireRowsAffected(res, "agent", id); err != nil {
		return err
	}
	return tx.Commit()
}

// Tree returns rootID and every descendant agent, in breadth-first order.
// Sub-agent fleets form a tree (spec §3); this powers a fleet-wide status
// view without N+1 queries from the caller.
func (s *AgentStore) Tree(ctx context.Context, rootID string) ([]*models.Agent, error) {
	root, err := s.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}

	out := []*models.Agent{root}
	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, parentID := range frontier {
			children, err := s.List(ctx, models.AgentFilter{ParentAgentID: &parentID})
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out = append(out, c)
				next = append(next, c.ID)
			}
		}
		frontier = next
	}
	return out, nil
}

func requireRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFoundf("%s %s", entity, id)
	}
	return nil
}
