// Package metrics holds the gateway's Prometheus collector: the small,
// fixed set of series named in the telemetry endpoint's contract.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector wraps a private Prometheus registry with the gateway's metric
// series. There is exactly one instance per process, constructed at
// startup and shared by the accept dispatcher, forwarder workers, and the
// primary selector.
type Collector struct {
	Registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	bytesC2B          prometheus.Counter
	bytesB2C          prometheus.Counter
	serversTotal      prometheus.Gauge
	serversHealthy    prometheus.Gauge
	serversUnhealthy  prometheus.Gauge
}

// New creates and registers the gateway's metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pg_gateway_connections_total",
			Help: "Total client connections accepted and bound to a primary.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pg_gateway_connections_active",
			Help: "Connections currently registered with a forwarder worker.",
		}),
		bytesC2B: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pg_gateway_bytes_client_to_backend_total",
			Help: "Bytes spliced from clients to backends.",
		}),
		bytesB2C: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pg_gateway_bytes_backend_to_client_total",
			Help: "Bytes spliced from backends to clients.",
		}),
		serversTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pg_gateway_servers_total",
			Help: "Configured candidate backends.",
		}),
		serversHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pg_gateway_servers_healthy",
			Help: "Candidates classified Primary or Replica on the last scan.",
		}),
		serversUnhealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pg_gateway_servers_unhealthy",
			Help: "Candidates classified Unhealthy on the last scan.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.bytesC2B,
		c.bytesB2C,
		c.serversTotal,
		c.serversHealthy,
		c.serversUnhealthy,
	)

	return c
}

// IncActiveConnections must be called exactly once per connection record
// whose "registered" flag ever became true.
func (c *Collector) IncActiveConnections() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// DecActiveConnections must be called exactly once for the same set of
// records as IncActiveConnections, on teardown.
func (c *Collector) DecActiveConnections() {
	c.connectionsActive.Dec()
}

// AddBytesClientToBackend accumulates bytes moved by a c2b splice.
func (c *Collector) AddBytesClientToBackend(n int) {
	if n > 0 {
		c.bytesC2B.Add(float64(n))
	}
}

// AddBytesBackendToClient accumulates bytes moved by a b2c splice.
func (c *Collector) AddBytesBackendToClient(n int) {
	if n > 0 {
		c.bytesB2C.Add(float64(n))
	}
}

// SetServerCounts updates the three per-scan gauges. Called once per
// primary-selector cycle, after every candidate has been classified.
func (c *Collector) SetServerCounts(total, healthy, unhealthy int) {
	c.serversTotal.Set(float64(total))
	c.serversHealthy.Set(float64(healthy))
	c.serversUnhealthy.Set(float64(unhealthy))
}
