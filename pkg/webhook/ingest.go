package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/lifecycle"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/store"
)

// ErrBadSignature is returned when the delivery's linear-signature header
// does not verify against the configured secret.
var ErrBadSignature = errors.New("invalid webhook signature")

// Ingest is the Webhook Ingest module (spec §4.7).
type Ingest struct {
	store     *store.Store
	lifecycle *lifecycle.Manager
	secret    []byte
	log       *slog.Logger
}

// New wires an Ingest. secret is the raw LINEAR_WEBHOOK_SECRET value.
func New(st *store.Store, lm *lifecycle.Manager, secret []byte) *Ingest {
	return &Ingest{
		store:     st,
		lifecycle: lm,
		secret:    secret,
		log:       slog.Default().With("component", "webhook"),
	}
}

// Handle verifies the signature, normalizes the body, and applies it to
// the Linear mirror, running maybeAutoAssign for issue creates/updates.
func (i *Ingest) Handle(ctx context.Context, body []byte, signatureHex string) error {
	if !VerifySignature(i.secret, body, signatureHex) {
		return ErrBadSignature
	}

	event, err := Normalize(body)
	if err != nil {
		return fmt.Errorf("normalize webhook payload: %w", err)
	}

	switch {
	case event.Issue != nil:
		return i.handleIssue(ctx, event.Issue)
	case event.Project != nil:
		return i.handleProject(ctx, event.Project)
	case event.Cycle != nil:
		return nil // accepted, no-op (spec §4.7)
	default:
		return fmt.Errorf("normalized webhook event carried no variant")
	}
}

func (i *Ingest) handleIssue(ctx context.Context, ev *IssueEvent) error {
	if ev.Action == ActionRemove {
		if err := i.store.Linear.DeleteIssue(ctx, ev.ID); err != nil {
			return fmt.Errorf("delete mirrored issue: %w", err)
		}
		return nil
	}

	// A missing prior row (first delivery for this issue) leaves issue at
	// its zero value; Present still gates which fields get set below.
	issue := &models.LinearIssue{ID: ev.ID}
	if prior, err := i.store.Linear.GetIssue(ctx, ev.ID); err == nil {
		issue = prior
	}

	if ev.Present["title"] {
		issue.Title = ev.Title
	}
	if ev.Present["projectId"] {
		issue.ProjectID = ev.ProjectID
	}
	if ev.Present["state"] {
		issue.StateType = ev.StateType
		issue.StateName = ev.StateName
	}
	if ev.Present["assignee"] {
		issue.AssigneeName = ev.AssigneeName
	}
	if ev.Present["priority"] {
		issue.Priority = ev.Priority
	}

	if err := i.store.Linear.UpsertIssue(ctx, issue); err != nil {
		return fmt.Errorf("upsert mirrored issue: %w", err)
	}

	if err := i.maybeAutoAssign(ctx, issue.ID); err != nil {
		i.log.Warn("auto-assign failed", "error", err, "issue_id", issue.ID)
	}
	return nil
}

func (i *Ingest) handleProject(ctx context.Context, ev *ProjectEvent) error {
	if ev.Action == ActionRemove {
		if err := i.store.Linear.DeleteProject(ctx, ev.ID); err != nil {
			return fmt.Errorf("delete mirrored project: %w", err)
		}
		return nil
	}

	project := &models.LinearProject{ID: ev.ID}
	if ev.Present["name"] {
		project.Name = ev.Name
	}
	if err := i.store.Linear.UpsertProject(ctx, project); err != nil {
		return fmt.Errorf("upsert mirrored project: %w", err)
	}
	return nil
}

var startedStateNames = map[string]bool{
	"started":     true,
	"in progress": true,
	"in_progress": true,
}

// maybeAutoAssign implements spec §4.7's matching rule: an issue entering
// a "started" state with a recognized assignee gets auto-assigned to the
// agent whose normalized name matches, unless it is already linked.
func (i *Ingest) maybeAutoAssign(ctx context.Context, issueID string) error {
	issue, err := i.store.Linear.GetIssue(ctx, issueID)
	if err != nil {
		return fmt.Errorf("load issue for auto-assign: %w", err)
	}
	if issue.AgentTaskID != nil {
		return nil
	}

	stateType := strings.ToLower(strings.TrimSpace(issue.StateType))
	stateName := strings.ToLower(strings.TrimSpace(issue.StateName))
	if stateType != "started" && stateType != "in_progress" && !startedStateNames[stateName] {
		return nil
	}

	normalizedAssignee := strings.ToLower(strings.TrimSpace(issue.AssigneeName))
	if normalizedAssignee == "" {
		return nil
	}

	agents, err := i.store.Agents.List(ctx, models.AgentFilter{})
	if err != nil {
		return fmt.Errorf("list agents for auto-assign: %w", err)
	}
	var match *models.Agent
	for _, a := range agents {
		if strings.ToLower(strings.TrimSpace(a.Name)) == normalizedAssignee {
			match = a
			break
		}
	}
	if match == nil {
		return nil
	}

	priority := linearPriorityToPriority(issue.Priority)
	taskID := "linear_" + issueID
	_, err = i.lifecycle.AssignTask(ctx, match.ID, taskID, issue.Title, priority, &issueID, issue.ProjectID)
	if err != nil {
		return fmt.Errorf("auto-assign task: %w", err)
	}
	return nil
}

func linearPriorityToPriority(p int) models.Priority {
	switch {
	case p >= 3:
		return models.PriorityHigh
	case p == 2:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}
