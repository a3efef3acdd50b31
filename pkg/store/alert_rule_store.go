package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// AlertRuleStore persists AlertRule rows (spec §3, §4.4).
type AlertRuleStore struct {
	db *sql.DB
}

const alertRuleColumns = `id, trigger, priority_filter, channel, delay_ms, enabled, created_at, updated_at`

func scanAlertRule(row interface {
	Scan(dest ...any) error
}) (*models.AlertRule, error) {
	var r models.AlertRule
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.Trigger, &r.PriorityFilter, &r.Channel,
		&r.DelayMS, &r.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	r.CreatedAt = ts
	us, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	r.UpdatedAt = us
	return &r, nil
}

// List returns every alert rule.
func (s *AlertRuleStore) List(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListFor returns enabled rules matching trigger, for the Alert Engine's
// ProcessEvent rule-matching pass.
func (s *AlertRuleStore) ListFor(ctx context.Context, trigger models.Trigger) ([]*models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules
		WHERE trigger = ? AND enabled = 1 ORDER BY created_at ASC`, trigger)
	if err != nil {
		return nil, fmt.Errorf("list alert rules for trigger: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Create inserts a new alert rule.
func (s *AlertRuleStore) Create(ctx context.Context, r *models.AlertRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, trigger, priority_filter, channel, delay_ms, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, r.PriorityFilter, r.Channel, r.DelayMS, r.Enabled,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

// Update persists mutable alert rule fields.
func (s *AlertRuleStore) Update(ctx context.Context, r *models.AlertRule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET priority_filter = ?, channel = ?, delay_ms = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		r.PriorityFilter, r.Channel, r.DelayMS, r.Enabled, r.UpdatedAt.Format(time.RFC3339Nano), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	return requireRowsAffected(res, "alert rule", r.ID)
}

// Delete removes an alert rule.
func (s *AlertRuleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	return requireRowsAffected(res, "alert rule", id)
}

// SeedDefaults inserts the default rule table (spec §4.4) if no rules
// exist yet. Safe to call on every startup.
func (s *AlertRuleStore) SeedDefaults(ctx context.Context) error {
	existing, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	// Mirrors the default rule table exactly (blocked-high/medium/low,
	// error-all, completed-high, completed-batch, idle-all, stale-all).
	// "medium∪low" for completed-batch is two rows, one per priority,
	// since PriorityFilter has no compound value.
	defaults := []models.AlertRule{
		{Trigger: models.TriggerBlocked, PriorityFilter: models.PriorityFilterHigh, Channel: models.ChannelBoth, DelayMS: 0, Enabled: true},
		{Trigger: models.TriggerBlocked, PriorityFilter: models.PriorityFilterMedium, Channel: models.ChannelBoth, DelayMS: 600_000, Enabled: true},
		{Trigger: models.TriggerBlocked, PriorityFilter: models.PriorityFilterLow, Channel: models.ChannelInApp, DelayMS: 3_600_000, Enabled: true},
		{Trigger: models.TriggerError, PriorityFilter: models.PriorityFilterAll, Channel: models.ChannelBoth, DelayMS: 0, Enabled: true},
		{Trigger: models.TriggerCompleted, PriorityFilter: models.PriorityFilterHigh, Channel: models.ChannelInApp, DelayMS: 0, Enabled: true},
		{Trigger: models.TriggerCompleted, PriorityFilter: models.PriorityFilterMedium, Channel: models.ChannelInApp, DelayMS: 900_000, Enabled: true},
		{Trigger: models.TriggerCompleted, PriorityFilter: models.PriorityFilterLow, Channel: models.ChannelInApp, DelayMS: 900_000, Enabled: true},
		{Trigger: models.TriggerIdleTooLong, PriorityFilter: models.PriorityFilterAll, Channel: models.ChannelInApp, DelayMS: 1_800_000, Enabled: true},
		// stale_task is part of the trigger vocabulary but has no producer in
		// this scope (see Open Questions); seeded disabled so an operator can
		// enable it later without a schema change.
		{Trigger: models.TriggerStaleTask, PriorityFilter: models.PriorityFilterAll, Channel: models.ChannelPush, DelayMS: 7_200_000, Enabled: false},
	}

	for i := range defaults {
		defaults[i].ID = uuid.NewString()
		defaults[i].CreatedAt = now
		defaults[i].UpdatedAt = now
		if err := s.Create(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("seed default alert rule %d: %w", i, err)
		}
	}
	return nil
}
