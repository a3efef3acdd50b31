// Package metrics exposes the control plane's Prometheus collectors
// (spec §7 "Observable side effects"). Grounded on cuemby-warren's
// pkg/metrics/metrics.go: package-level collectors registered once in
// init(), a Handler() wrapping promhttp for the /metrics endpoint.
// Purely additive — nothing here gates lifecycle or alert progress.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BusSubscribers is the current number of live Event Bus subscribers.
	BusSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_bus_subscribers",
		Help: "Number of live Event Bus subscribers.",
	})

	// BusEventsDropped counts events dropped from a subscriber's bounded
	// queue under the drop-oldest overflow policy.
	BusEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controlplane_bus_events_dropped_total",
		Help: "Total events dropped from a subscriber queue (drop-oldest overflow).",
	})

	// AlertsDelivered counts alert deliveries that became a persisted
	// Message, by channel.
	AlertsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_alerts_delivered_total",
		Help: "Total alert deliveries persisted as Messages, by channel.",
	}, []string{"channel"})

	// AlertsDroppedSilently counts in_app deliveries absorbed into a
	// pending digest instead of becoming their own Message.
	AlertsDroppedSilently = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controlplane_alerts_dropped_silently_total",
		Help: "Total alert deliveries merged into a pending digest instead of becoming their own Message.",
	})

	// ThrottleDenials counts notification deliveries an anti-spam
	// throttle refused, by the throttle that refused it.
	ThrottleDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_throttle_denials_total",
		Help: "Total deliveries denied by an anti-spam throttle, by throttle name.",
	}, []string{"throttle"})
)

func init() {
	prometheus.MustRegister(
		BusSubscribers,
		BusEventsDropped,
		AlertsDelivered,
		AlertsDroppedSilently,
		ThrottleDenials,
	)
}

// Handler returns the HTTP handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
