package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// LinearStore mirrors Linear workspace entities ingested via webhook
// (spec §4.7, §5). Each upsert writes the whole row; pkg/webhook merges a
// delivery's present fields onto the prior issue row before calling
// UpsertIssue.
type LinearStore struct {
	db *sql.DB
}

// UpsertProject inserts or replaces a mirrored Linear project.
func (s *LinearStore) UpsertProject(ctx context.Context, p *models.LinearProject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linear_projects (id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		p.ID, p.Name, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert linear project: %w", err)
	}
	return nil
}

// DeleteProject removes a mirrored project.
func (s *LinearStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM linear_projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete linear project: %w", err)
	}
	return nil
}

// UpsertIssue inserts or replaces a mirrored Linear issue.
func (s *LinearStore) UpsertIssue(ctx context.Context, i *models.LinearIssue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linear_issues (id, project_id, title, state_type, state_name,
			assignee_name, priority, agent_task_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			title = excluded.title,
			state_type = excluded.state_type,
			state_name = excluded.state_name,
			assignee_name = excluded.assignee_name,
			priority = excluded.priority,
			agent_task_id = excluded.agent_task_id,
			updated_at = excluded.updated_at`,
		i.ID, i.ProjectID, i.Title, i.StateType, i.StateName, i.AssigneeName,
		i.Priority, i.AgentTaskID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert linear issue: %w", err)
	}
	return nil
}

// GetIssue returns the mirrored issue with id, if any.
func (s *LinearStore) GetIssue(ctx context.Context, id string) (*models.LinearIssue, error) {
	var i models.LinearIssue
	var projectID, agentTaskID sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT id, project_id, title, state_type, state_name,
		assignee_name, priority, agent_task_id FROM linear_issues WHERE id = ?`, id)
	if err := row.Scan(&i.ID, &projectID, &i.Title, &i.StateType, &i.StateName,
		&i.AssigneeName, &i.Priority, &agentTaskID); err != nil {
		return nil, fmt.Errorf("get linear issue: %w", err)
	}
	if projectID.Valid {
		i.ProjectID = &projectID.String
	}
	if agentTaskID.Valid {
		i.AgentTaskID = &agentTaskID.String
	}
	return &i, nil
}

// DeleteIssue removes a mirrored issue.
func (s *LinearStore) DeleteIssue(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM linear_issues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete linear issue: %w", err)
	}
	return nil
}
