// Package alert is the Alert Engine (spec §4.4): matches lifecycle-derived
// AlertEvents against declarative rules, schedules delayed and batched
// deliveries via the Timer Service, applies per-channel anti-spam, and
// writes the result as a Message through the Store. It has no dependency
// on pkg/lifecycle beyond the AlertEvent struct (spec §9 "Cycles").
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/bus"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/metrics"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/store"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/timer"
)

// pendingKey identifies one scheduled (not yet delivered) single-event
// alert, for cancellation (spec §4.4 "Cancellation").
type pendingKey struct {
	AgentID string
	TaskID  string
	Trigger models.Trigger
	RuleID  string
}

// Engine is the Alert Engine. Construct with New; it has no exported
// fields — every interaction goes through ProcessEvent,
// ProcessEventImmediate, CancelPendingAlerts, CancelPendingAlertsForTrigger
// or Close.
type Engine struct {
	store *store.Store
	bus   *bus.Bus
	clock *timer.Service
	log   *slog.Logger

	mu      sync.Mutex
	pending map[pendingKey]*timer.Handle
	batches map[string]*completedBatch // keyed by rule ID

	pushBuckets *pushLimiter
	digests     *digestTracker
	sweepTicker *timer.TickerHandle

	droppedCount int64
}

// digestSweepInterval bounds how stale a merged digest can sit before
// being flushed past its window; well under digestWindow so the 60s
// coalescing deadline in spec §4.4 is honored closely.
const digestSweepInterval = 5 * time.Second

// New wires an Engine, seeds the default rule table on first use, and
// starts the periodic digest-flush sweep.
func New(ctx context.Context, st *store.Store, b *bus.Bus, clock *timer.Service) (*Engine, error) {
	if err := st.AlertRules.SeedDefaults(ctx); err != nil {
		return nil, fmt.Errorf("seed default alert rules: %w", err)
	}
	e := &Engine{
		store:       st,
		bus:         b,
		clock:       clock,
		log:         slog.Default().With("component", "alert"),
		pending:     make(map[pendingKey]*timer.Handle),
		batches:     make(map[string]*completedBatch),
		pushBuckets: newPushLimiter(),
		digests:     newDigestTracker(),
	}
	e.sweepTicker = clock.Every(digestSweepInterval, e.sweepDigests)
	return e, nil
}

// Close stops the digest sweep ticker. Safe to call once during shutdown.
func (e *Engine) Close() {
	e.sweepTicker.Stop()
}

func (e *Engine) sweepDigests() {
	ctx := context.Background()
	for _, flushed := range e.digests.SweepDue() {
		e.publish(ctx, models.ChannelInApp, "digest", flushed.Summary, nil)
	}
}

// ProcessEvent matches event against every enabled rule for its trigger
// and priority, then immediately delivers, schedules, or batches each
// match per spec §4.4 "Scheduling".
func (e *Engine) ProcessEvent(ctx context.Context, event models.AlertEvent) error {
	rules, err := e.store.AlertRules.ListFor(ctx, event.Trigger)
	if err != nil {
		return fmt.Errorf("list alert rules for %s: %w", event.Trigger, err)
	}

	for _, rule := range rules {
		if !rule.Matches(event.Trigger, event.Priority) {
			continue
		}
		e.schedule(ctx, rule, event)
	}
	return nil
}

// ProcessEventImmediate matches event against every enabled rule for its
// trigger and priority, like ProcessEvent, but delivers each match at once
// instead of respecting the rule's delay_ms; nothing is added to the
// pending index. Used by Reconcile after a crash/restart for a zero-delay
// re-evaluation (spec §5), rather than re-queuing each matched rule's full
// normal delay as if the condition had only just occurred.
func (e *Engine) ProcessEventImmediate(ctx context.Context, event models.AlertEvent) error {
	rules, err := e.store.AlertRules.ListFor(ctx, event.Trigger)
	if err != nil {
		return fmt.Errorf("list alert rules for %s: %w", event.Trigger, err)
	}

	for _, rule := range rules {
		if !rule.Matches(event.Trigger, event.Priority) {
			continue
		}
		e.deliverSingle(ctx, rule, event)
	}
	return nil
}

func (e *Engine) schedule(ctx context.Context, rule *models.AlertRule, event models.AlertEvent) {
	if event.Trigger == models.TriggerCompleted && rule.DelayMS > 0 {
		e.enqueueBatch(rule, event)
		return
	}

	if rule.DelayMS <= 0 {
		e.deliverSingle(ctx, rule, event)
		return
	}

	key := pendingKey{AgentID: event.AgentID, TaskID: event.TaskID, Trigger: event.Trigger, RuleID: rule.ID}
	handle := e.clock.Schedule(time.Duration(rule.DelayMS)*time.Millisecond, func() {
		e.mu.Lock()
		delete(e.pending, key)
		e.mu.Unlock()
		e.deliverSingle(context.Background(), rule, event)
	})

	e.mu.Lock()
	e.pending[key] = handle
	e.mu.Unlock()
}

// CancelPendingAlerts cancels every scheduled single-event alert for
// agentID (optionally narrowed to taskID), returning how many were
// cancelled. Idempotent: cancelling twice returns 0 the second time.
func (e *Engine) CancelPendingAlerts(agentID string, taskID *string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancelled := 0
	for key, handle := range e.pending {
		if key.AgentID != agentID {
			continue
		}
		if taskID != nil && key.TaskID != *taskID {
			continue
		}
		if e.clock.Cancel(handle) {
			cancelled++
		}
		delete(e.pending, key)
	}
	return cancelled
}

// CancelPendingAlertsForTrigger narrows cancellation to a single trigger
// kind, used by the Lifecycle Manager to cancel only pending "completed"
// alerts on a block (spec §4.6.5), or only pending "blocked" alerts on a
// completion (spec §4.6.8).
func (e *Engine) CancelPendingAlertsForTrigger(agentID, taskID string, trigger models.Trigger) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancelled := 0
	for key, handle := range e.pending {
		if key.AgentID != agentID || key.TaskID != taskID || key.Trigger != trigger {
			continue
		}
		if e.clock.Cancel(handle) {
			cancelled++
		}
		delete(e.pending, key)
	}
	return cancelled
}

func (e *Engine) deliverSingle(ctx context.Context, rule *models.AlertRule, event models.AlertEvent) {
	content := fmt.Sprintf("%s: %s", event.Trigger, event.Title)
	if event.Reason != "" {
		content = fmt.Sprintf("%s (%s)", content, event.Reason)
	}
	e.deliver(ctx, rule, event.AgentID, string(event.Trigger), content, event.ProjectID)
}

// deliver applies anti-spam and, unless the result is a silent drop or a
// digest absorption, creates a Message and publishes message:created.
func (e *Engine) deliver(ctx context.Context, rule *models.AlertRule, agentID, msgType, content string, projectID *string) {
	wantPush := rule.Channel == models.ChannelPush || rule.Channel == models.ChannelBoth
	wantInApp := rule.Channel == models.ChannelInApp || rule.Channel == models.ChannelBoth

	if wantPush {
		if e.pushBuckets.Allow(agentID) {
			e.publish(ctx, models.ChannelPush, msgType, content, projectID)
			wantPush = false
		} else {
			metrics.ThrottleDenials.WithLabelValues("alert_push").Inc()
			// push → in_app downgrade (spec §4.4 "Delivery" step 1).
			wantInApp = true
		}
	}

	if wantInApp {
		if absorbed := e.digests.Offer(agentID, content); absorbed {
			// Merged into a pending digest instead of becoming its own
			// message — counted as a drop per spec §4.4 delivery step 1,
			// the digest flush (see digest.go) is what eventually reaches
			// the Store.
			e.mu.Lock()
			e.droppedCount++
			e.mu.Unlock()
			metrics.AlertsDroppedSilently.Inc()
			return
		}
		e.publish(ctx, models.ChannelInApp, msgType, content, projectID)
	}
}

func (e *Engine) publish(ctx context.Context, channel models.Channel, msgType, content string, projectID *string) {
	id, err := e.store.Messages.Create(ctx, &models.Message{
		Type:      msgType,
		Content:   content,
		ProjectID: projectID,
		CreatedAt: e.clock.Now(),
	})
	if err != nil {
		e.log.Error("failed to persist alert message", "error", err, "channel", channel)
		return
	}
	metrics.AlertsDelivered.WithLabelValues(string(channel)).Inc()

	e.bus.Publish(models.DashboardEvent{
		Type: models.EventMessageCreated,
		Payload: map[string]any{
			"id":      id,
			"channel": string(channel),
		},
		TimestampMS: e.clock.Now() * 1000,
	})
}
