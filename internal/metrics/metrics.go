// Package metrics exposes internal/stats's counters as Prometheus
// instruments on a /metrics endpoint, additive to the stat-host HTML page
// — an independent read surface over the same Sink.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xdg/tinygate/internal/stats"
)

const (
	namespace = "tinygate"
	subsystem = "proxy"
)

// Registry holds the registered gauge/counter instruments backed by a
// stats.Sink. GaugeFunc instruments are read lazily on scrape, so no
// separate update path is needed — they always reflect the Sink's current
// state.
type Registry struct {
	sink *stats.Sink
}

// NewRegistry registers GaugeFunc instruments against sink and
// returns a Registry. Safe to call once per process; calling it twice
// would panic on duplicate registration, matching promauto's own
// behavior.
func NewRegistry(sink *stats.Sink) *Registry {
	r := &Registry{sink: sink}

	gauge := func(name, help string, f func() float64) {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, f)
	}

	gauge("connections_active", "Currently active connections.", func() float64 {
		return float64(sink.Snapshot().ActiveConnections)
	})
	gauge("connections_peak", "Peak simultaneous connections observed.", func() float64 {
		return float64(sink.Snapshot().PeakConnections)
	})
	gauge("connections_opened_total", "Total connections accepted.", func() float64 {
		return float64(sink.Snapshot().ConnectionsOpened)
	})
	gauge("connections_closed_total", "Total connections closed.", func() float64 {
		return float64(sink.Snapshot().ConnectionsClosed)
	})
	gauge("requests_processed_total", "Total requests processed.", func() float64 {
		return float64(sink.Snapshot().RequestsProcessed)
	})
	gauge("requests_denied_total", "Total requests denied by ACL or auth.", func() float64 {
		return float64(sink.Snapshot().RequestsDenied)
	})
	gauge("requests_failed_total", "Total requests failed (parse/IO/timeout).", func() float64 {
		return float64(sink.Snapshot().RequestsFailed)
	})
	gauge("requests_filtered_total", "Total requests blocked by the filter engine.", func() float64 {
		return float64(sink.Snapshot().RequestsFiltered)
	})
	gauge("bytes_transferred_total", "Total bytes relayed in either direction.", func() float64 {
		return float64(sink.Snapshot().BytesTransferred)
	})
	gauge("auth_attempts_total", "Total Basic proxy-authentication attempts.", func() float64 {
		return float64(sink.Snapshot().AuthAttempts)
	})
	gauge("auth_failures_total", "Total failed Basic proxy-authentication attempts.", func() float64 {
		return float64(sink.Snapshot().AuthFailures)
	})

	return r
}

// Handler returns the standard promhttp handler for mounting on /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
