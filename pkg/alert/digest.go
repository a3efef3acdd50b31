package alert

import (
	"fmt"
	"sync"
	"time"
)

const (
	digestThreshold = 5
	digestWindow    = 60 * time.Second
)

// agentDigest tracks one agent's in_app event rate for the coalescing
// policy in spec §4.4 "Anti-spam": more than 5 events within 60s opens a
// merge window; events arriving during that window are absorbed into a
// single pending digest instead of becoming their own Message.
type agentDigest struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	merging     bool
	merged      []string
}

// digestTracker is keyed per agent.
type digestTracker struct {
	mu     sync.Mutex
	agents map[string]*agentDigest
}

func newDigestTracker() *digestTracker {
	return &digestTracker{agents: make(map[string]*agentDigest)}
}

func (t *digestTracker) get(agentID string) *agentDigest {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.agents[agentID]
	if !ok {
		d = &agentDigest{}
		t.agents[agentID] = d
	}
	return d
}

// Offer records one in_app-bound event for agentID. It returns true if
// the event was absorbed into a pending digest (the caller must not
// create its own Message for it) or false if the caller should deliver
// it as an individual message.
func (t *digestTracker) Offer(agentID, content string) bool {
	d := t.get(agentID)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.windowStart.IsZero() || now.Sub(d.windowStart) >= digestWindow {
		if d.merging {
			// The sweep has not flushed this digest yet; keep the event in it
			// rather than discarding the merged content.
			d.merged = append(d.merged, content)
			return true
		}
		d.windowStart = now
		d.count = 0
		d.merging = false
		d.merged = nil
	}
	d.count++

	if d.merging {
		d.merged = append(d.merged, content)
		return true
	}

	if d.count > digestThreshold {
		d.merging = true
		d.merged = append(d.merged, content)
		return true
	}

	return false
}

// flushedDigest is one agent's ready-to-send digest summary.
type flushedDigest struct {
	AgentID string
	Summary string
}

// SweepDue returns and clears every digest whose merge window has
// elapsed. Called periodically by the Engine's digest sweep ticker.
func (t *digestTracker) SweepDue() []flushedDigest {
	t.mu.Lock()
	agentIDs := make([]string, 0, len(t.agents))
	for id := range t.agents {
		agentIDs = append(agentIDs, id)
	}
	t.mu.Unlock()

	var due []flushedDigest
	for _, id := range agentIDs {
		if summary, ok := t.FlushIfDue(id); ok {
			due = append(due, flushedDigest{AgentID: id, Summary: summary})
		}
	}
	return due
}

// FlushIfDue returns and clears a pending digest for agentID if its merge
// window has elapsed, formatted as a single summary string. Intended to
// be polled by a periodic timer owned by the Engine; returns ("", false)
// if there is nothing to flush yet.
func (t *digestTracker) FlushIfDue(agentID string) (string, bool) {
	d := t.get(agentID)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.merging || now.Sub(d.windowStart) < digestWindow {
		return "", false
	}

	summary := fmt.Sprintf("%d notifications merged for agent %s", len(d.merged), agentID)
	d.merging = false
	d.merged = nil
	d.count = 0
	d.windowStart = time.Time{}
	return summary, true
}
