package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is what the collector reads on every scrape.
type Source interface {
	BytesIn() uint64
	BytesOut() uint64
	ReceiveRate() uint64
	TCPAccepted() uint64
	// ActiveKinds maps each transport kind name to whether it is alive.
	ActiveKinds() map[string]bool
}

// Collector exposes a Source as Prometheus metrics on a private registry.
// A nil Collector is safe to use.
type Collector struct {
	src       Source
	reg       *prometheus.Registry
	startTime time.Time
}

// NewCollector registers falcon's metrics for src.  kinds lists the
// label values of falcon_transports_active.
func NewCollector(src Source, kinds []string) *Collector {
	c := &Collector{src: src, reg: prometheus.NewRegistry(), startTime: time.Now()}

	c.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "falcon_bytes_in_total",
			Help: "Bytes delivered by every transport.",
		}, func() float64 { return float64(src.BytesIn()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "falcon_bytes_out_total",
			Help: "Bytes sent through the registry.",
		}, func() float64 { return float64(src.BytesOut()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "falcon_receive_rate_bytes_per_second",
			Help: "Inbound rate at the last sample.",
		}, func() float64 { return float64(src.ReceiveRate()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "falcon_tcp_accepted_total",
			Help: "Connections accepted by the TCP server since it started listening.",
		}, func() float64 { return float64(src.TCPAccepted()) }),
	)

	for _, kind := range kinds {
		kind := kind
		c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "falcon_transports_active",
			Help:        "Whether a transport of this kind is alive.",
			ConstLabels: prometheus.Labels{"kind": kind},
		}, func() float64 {
			if src.ActiveKinds()[kind] {
				return 1
			}
			return 0
		}))
	}
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Snapshot is a point-in-time copy of the collected values.
type Snapshot struct {
	Uptime      string          `json:"uptime"`
	BytesIn     uint64          `json:"bytes_in"`
	BytesOut    uint64          `json:"bytes_out"`
	ReceiveRate uint64          `json:"receive_rate"`
	TCPAccepted uint64          `json:"tcp_accepted"`
	Active      map[string]bool `json:"active"`
}

// Snapshot returns the current values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Uptime:      time.Since(c.startTime).Truncate(time.Second).String(),
		BytesIn:     c.src.BytesIn(),
		BytesOut:    c.src.BytesOut(),
		ReceiveRate: c.src.ReceiveRate(),
		TCPAccepted: c.src.TCPAccepted(),
		Active:      c.src.ActiveKinds(),
	}
}

// JSON returns the snapshot as indented JSON.
func (c *Collector) JSON() string {
	b, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return string(b)
}
