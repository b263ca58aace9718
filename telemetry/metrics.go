package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	PacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerkit",
			Name:      "packets_total",
			Help:      "Requests handled, by direction and result (fulfill, reject, error).",
		},
		[]string{"direction", "result"},
	)

	PacketDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerkit",
			Name:      "packet_duration_seconds",
			Help:      "Time from request to reply.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"direction"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peerkit",
			Name:      "in_flight_packets",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"direction"},
	)

	ProbeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerkit",
			Name:      "probe_outcomes_total",
			Help:      "Liveness probe outcomes per peer.",
		},
		[]string{"peer", "outcome"},
	)

	PeerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peerkit",
			Name:      "peer_up",
			Help:      "1 if the last probe to the peer succeeded, else 0.",
		},
		[]string{"peer"},
	)
)

func init() {
	Registry.MustRegister(PacketsTotal, PacketDuration, InFlight, ProbeOutcomes, PeerUp)
}

// MetricsHandler exposes the registry. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// CountOutcomes wraps a scheduler's callbacks so every probe outcome is
// counted under peer before the wrapped callback runs. Nil callbacks are
// allowed.
func CountOutcomes(peer string, onSuccess, onFailure func()) (func(), func()) {
	success := ProbeOutcomes.WithLabelValues(peer, "success")
	failure := ProbeOutcomes.WithLabelValues(peer, "failure")
	up := PeerUp.WithLabelValues(peer)

	wrappedSuccess := func() {
		success.Inc()
		up.Set(1)
		if onSuccess != nil {
			onSuccess()
		}
	}
	wrappedFailure := func() {
		failure.Inc()
		up.Set(0)
		if onFailure != nil {
			onFailure()
		}
	}
	return wrappedSuccess, wrappedFailure
}
