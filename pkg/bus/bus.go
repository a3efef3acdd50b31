// Package bus is the Event Bus & Streaming Fan-out module (spec §4.3): an
// in-process publisher with bounded per-subscriber queues. Structurally
// grounded on tarsy's events.ConnectionManager (pkg/events/manager.go) —
// the same register/unregister-under-lock and snapshot-then-release-lock
// fan-out pattern — but backed by native Go channels instead of Postgres
// LISTEN/NOTIFY, since this control plane is a single process.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/metrics"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// QueueCapacity is the bound on each subscriber's outstanding event queue
// (spec §4.3).
const QueueCapacity = 256

// Envelope is what a subscriber receives. Dropped carries the number of
// events this subscriber missed immediately before Event, so a Stream
// Gateway client can surface a resync instead of silently skipping ahead.
type Envelope struct {
	Event   models.DashboardEvent
	Dropped int
}

// Subscription is a live feed handle returned by Subscribe.
type Subscription struct {
	id      string
	ch      chan Envelope
	dropped atomic.Int64
}

// Events returns the channel to receive on. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// Bus fans out published events to every live subscriber.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	log *slog.Logger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string]*Subscription),
		log:  slog.Default().With("component", "bus"),
	}
}

// Subscribe registers a new feed. Callers must call Unsubscribe when done.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Envelope, QueueCapacity),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	metrics.BusSubscribers.Inc()
	return sub
}

// Unsubscribe removes a feed and closes its channel. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
		metrics.BusSubscribers.Dec()
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish fans event out to every subscriber. It never blocks: a
// subscriber whose queue is full has its oldest queued event dropped to
// make room (drop-oldest, spec §4.3), and the dropped count accumulates
// on the subscription until an event is actually delivered, at which
// point it rides along on that event's Envelope.Dropped and resets to 0.
func (b *Bus) Publish(event models.DashboardEvent) {
	// Snapshot under the lock, then release before sending — mirrors
	// ConnectionManager.Broadcast's reasoning: don't hold the registry lock
	// for the duration of N channel sends.
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *Subscription, event models.DashboardEvent) {
	for attempt := 0; attempt < 2; attempt++ {
		// Claim the accumulated drop count before attempting the send: the
		// select's send case evaluates its value expression even when the
		// default case fires, so any side effect must happen outside it.
		dropped := sub.dropped.Swap(0)
		env := Envelope{Event: event, Dropped: int(dropped)}

		select {
		case sub.ch <- env:
			return
		default:
		}

		if dropped > 0 {
			// Send didn't happen — give the claimed count back so it isn't lost.
			sub.dropped.Add(dropped)
		}

		// Queue full: drop the oldest queued event to make room, then retry
		// once. A concurrent consumer may have drained it already, in which
		// case the retry send just succeeds normally.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			metrics.BusEventsDropped.Inc()
			b.log.Warn("subscriber queue full, dropping oldest event", "subscriber", sub.id)
		default:
		}
	}

	// Both the original send and the retry-after-drop failed — another
	// publisher raced us and refilled the queue. Count this event as
	// dropped too rather than spin; the next successful delivery will
	// report the accumulated total.
	sub.dropped.Add(1)
}
