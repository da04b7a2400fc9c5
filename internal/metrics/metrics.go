// Package metrics exposes seam's operational counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seam_events_received_total",
		Help: "Backend events received across all worktree subscriptions.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seam_events_dropped_total",
		Help: "Events discarded by the normalizer (unknown kind or malformed).",
	})

	EventsUnresolvable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seam_events_unresolvable_total",
		Help: "Events whose backend session could not be mapped to a local session.",
	})

	InterruptsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seam_interrupts_enqueued_total",
		Help: "Interrupt requests (permission, question, command) queued for a user decision.",
	})

	BackgroundCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seam_background_completions_total",
		Help: "Turns that finished while their session was not in the foreground.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seam_backend_reconnects_total",
		Help: "Times a worktree event subscription had to be re-established.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
