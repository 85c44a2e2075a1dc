package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	framesIn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mleschat_frames_received_total",
			Help: "Number of frames received from the relay",
		},
	)
	framesOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mleschat_frames_sent_total",
			Help: "Number of frames sent to the relay",
		},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mleschat_frames_dropped_total",
			Help: "Number of inbound frames dropped before delivery",
		},
		[]string{"reason"},
	)
	duplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mleschat_duplicates_total",
			Help: "Number of inbound messages rejected by the ledger",
		},
	)
	gkaResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mleschat_gka_resets_total",
			Help: "Number of group key agreement rounds restarted",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mleschat_reconnects_total",
			Help: "Number of relay reconnect attempts",
		},
	)
	queueEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mleschat_queue_evictions_total",
			Help: "Number of unacknowledged messages evicted from the outbound queue",
		},
	)
	relayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mleschat_relay_frames_total",
			Help: "Number of frames routed by the relay",
		},
		[]string{"transport"},
	)
)

func init() {
	registry.MustRegister(
		framesIn,
		framesOut,
		framesDropped,
		duplicates,
		gkaResets,
		reconnects,
		queueEvictions,
		relayFrames,
	)
}

// Handler exposes the registered metrics over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func FrameIn() {
	framesIn.Inc()
}

func FrameOut() {
	framesOut.Inc()
}

// Dropped counts an inbound frame discarded for reason ("auth",
// "malformed", "frame").
func Dropped(reason string) {
	framesDropped.With(prometheus.Labels{"reason": reason}).Inc()
}

func Duplicate() {
	duplicates.Inc()
}

func GKAReset() {
	gkaResets.Inc()
}

func Reconnect() {
	reconnects.Inc()
}

func QueueEviction() {
	queueEvictions.Inc()
}

func RelayFrame(transport string) {
	relayFrames.With(prometheus.Labels{"transport": transport}).Inc()
}
