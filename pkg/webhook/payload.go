package webhook

import (
	"encoding/json"
	"fmt"
)

// Action is the Linear webhook's action field.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// envelope is the untyped shell every Linear webhook delivery shares;
// Data is decoded a second time into a typed variant once Type is known
// (spec §9 "Dynamic typing of webhook payloads" — never touch the Store
// from the untyped shape).
type envelope struct {
	Type   string          `json:"type"`
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// IssueEvent is the normalized payload for type=Issue. Present records
// which top-level JSON keys the delivery actually included, so a caller
// merging into a stored mirror row can default an absent field to the
// prior value instead of zeroing it (spec §4.7 "fields defaulted to
// prior values when absent").
type IssueEvent struct {
	Action       Action
	ID           string
	Title        string
	ProjectID    *string
	StateType    string
	StateName    string
	AssigneeName string
	Priority     int
	Present      map[string]bool
}

// ProjectEvent is the normalized payload for type=Project.
type ProjectEvent struct {
	Action  Action
	ID      string
	Name    string
	Present map[string]bool
}

// CycleEvent is accepted but intentionally empty: spec §4.7 treats
// type=Cycle as a no-op delivery.
type CycleEvent struct {
	Action Action
}

// Normalized is exactly one of IssueEvent, ProjectEvent, or CycleEvent.
type Normalized struct {
	Issue   *IssueEvent
	Project *ProjectEvent
	Cycle   *CycleEvent
}

type issueData struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	ProjectID *string `json:"projectId"`
	State     struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"state"`
	Assignee *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Priority int `json:"priority"`
}

type projectData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Normalize parses a raw webhook body into a typed Normalized event.
func Normalize(body []byte) (*Normalized, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}

	switch env.Type {
	case "Issue":
		var d issueData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode issue payload: %w", err)
		}
		present, err := presentKeys(env.Data)
		if err != nil {
			return nil, err
		}
		assignee := ""
		if d.Assignee != nil {
			assignee = d.Assignee.Name
		}
		return &Normalized{Issue: &IssueEvent{
			Action:       env.Action,
			ID:           d.ID,
			Title:        d.Title,
			ProjectID:    d.ProjectID,
			StateType:    d.State.Type,
			StateName:    d.State.Name,
			AssigneeName: assignee,
			Priority:     d.Priority,
			Present:      present,
		}}, nil
	case "Project":
		var d projectData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode project payload: %w", err)
		}
		present, err := presentKeys(env.Data)
		if err != nil {
			return nil, err
		}
		return &Normalized{Project: &ProjectEvent{Action: env.Action, ID: d.ID, Name: d.Name, Present: present}}, nil
	case "Cycle":
		return &Normalized{Cycle: &CycleEvent{Action: env.Action}}, nil
	default:
		return nil, fmt.Errorf("unrecognized webhook type %q", env.Type)
	}
}

// presentKeys reports which top-level keys a JSON object included, so a
// merge step can tell "absent" from "present but zero-valued".
func presentKeys(raw json.RawMessage) (map[string]bool, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode payload keys: %w", err)
	}
	present := make(map[string]bool, len(m))
	for k := range m {
		present[k] = true
	}
	return present, nil
}
