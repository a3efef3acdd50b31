package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// completedBatch accumulates "completed" AlertEvents for a single rule
// (keyed by rule.ID) during a delay window, then flushes them as one
// summary Message (spec §4.4 "trigger=completed and delay_ms > 0").
type completedBatch struct {
	mu      sync.Mutex
	entries []batchEntry
}

type batchEntry struct {
	AgentID   string
	Title     string
	ProjectID *string
}

func (e *Engine) enqueueBatch(rule *models.AlertRule, event models.AlertEvent) {
	e.mu.Lock()
	b, exists := e.batches[rule.ID]
	if !exists {
		b = &completedBatch{}
		e.batches[rule.ID] = b
	}
	e.mu.Unlock()

	b.mu.Lock()
	b.entries = append(b.entries, batchEntry{AgentID: event.AgentID, Title: event.Title, ProjectID: event.ProjectID})
	startTimer := len(b.entries) == 1
	b.mu.Unlock()

	if !startTimer {
		return
	}

	e.clock.Schedule(time.Duration(rule.DelayMS)*time.Millisecond, func() {
		e.flushBatch(rule)
	})
}

func (e *Engine) flushBatch(rule *models.AlertRule) {
	e.mu.Lock()
	b, exists := e.batches[rule.ID]
	if exists {
		delete(e.batches, rule.ID)
	}
	e.mu.Unlock()
	if !exists {
		return
	}

	b.mu.Lock()
	entries := b.entries
	b.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	agents := make(map[string]int)
	var projectID *string
	for _, entry := range entries {
		agents[entry.AgentID]++
		if projectID == nil {
			projectID = entry.ProjectID
		}
	}

	content := fmt.Sprintf("%d tasks completed across %d agent(s)", len(entries), len(agents))
	e.deliver(context.Background(), rule, entries[0].AgentID, "completed_batch", content, projectID)
}
