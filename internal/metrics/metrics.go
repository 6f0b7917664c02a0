// Package metrics exposes the capture pipeline's counters through a
// Prometheus registry served on the status API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source holds the capture source metric instruments.
type Source struct {
	registry *prometheus.Registry

	BytesRead  prometheus.Counter
	ReadCalls  prometheus.Counter
	NALUnits   *prometheus.CounterVec
	RingDrops  prometheus.Counter
	ReadErrors prometheus.Counter
	Restarts   prometheus.Counter
	State      prometheus.Gauge
}

// NewSource creates the source metrics on a fresh registry.
func NewSource() *Source {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Source{
		registry: registry,
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "vehiclecam_source_bytes_read_total",
			Help: "Bytes read from the encoder pipe.",
		}),
		ReadCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "vehiclecam_source_read_calls_total",
			Help: "Read syscalls issued against the encoder pipe.",
		}),
		NALUnits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vehiclecam_source_nal_units_total",
			Help: "NAL units emitted by the Annex-B scanner.",
		}, []string{"type"}),
		RingDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "vehiclecam_source_ring_drops_total",
			Help: "NAL records evicted from the ring by overwrite.",
		}),
		ReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vehiclecam_source_read_errors_total",
			Help: "Non-transient errors reading the encoder pipe.",
		}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vehiclecam_source_restarts_total",
			Help: "Health-check driven pipeline restarts.",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vehiclecam_source_state",
			Help: "Capture source state (0 stopped, 1 starting, 2 running, 3 error, 4 device lost).",
		}),
	}
}

// Handler returns the HTTP handler serving the registry.
func (s *Source) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
