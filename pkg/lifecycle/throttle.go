package lifecycle

import (
	"sync"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/metrics"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// pushThrottleWindow is the per-agent 1-hour reset-on-expiry window (spec
// §4.6.9). Independent of pkg/alert's own push limiter — this one gates
// direct Lifecycle-originated pushes (e.g. a future push-capable admin
// notification), not Alert Engine deliveries.
const pushThrottleWindow = 3_600_000 * time.Millisecond
const pushThrottleMax = 3

type throttleWindow struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// ShouldSendMessage implements spec §4.6.9: in_app is always allowed; push
// is capped at 3 sends per rolling-reset 1-hour window per agent.
func (m *Manager) ShouldSendMessage(agentID string, channel models.Channel) bool {
	if channel != models.ChannelPush {
		return true
	}

	m.throttleMu.Lock()
	w, ok := m.throttle[agentID]
	if !ok {
		w = &throttleWindow{}
		m.throttle[agentID] = w
	}
	m.throttleMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if w.start.IsZero() || now.Sub(w.start) > pushThrottleWindow {
		w.start = now
		w.count = 1
		return true
	}
	if w.count >= pushThrottleMax {
		metrics.ThrottleDenials.WithLabelValues("lifecycle_push").Inc()
		return false
	}
	w.count++
	return true
}
