// Package metrics exports connection and traffic counters to prometheus.
// A Collector is an asio2.Observer, so it can be set as the Observer of any
// tcp, udp or ws server and client.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	asio2 "github.com/zhllxt/asio2-sub011"
)

const namespace = "asio2"

// Collector counts connections and bytes per transport.
type Collector struct {
	accepted *prometheus.CounterVec
	active   *prometheus.GaugeVec
	bytesIn  *prometheus.CounterVec
	bytesOut *prometheus.CounterVec

	// totals mirrors the vectors for Snapshot without a registry round trip.
	mu     sync.Mutex
	totals map[string]*Stats
}

var _ asio2.Observer = (*Collector)(nil)

// Stats is the per transport view returned by Snapshot.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Active   int64  `json:"active"`
	BytesIn  uint64 `json:"bytesIn"`
	BytesOut uint64 `json:"bytesOut"`
}

// NewCollector creates a collector. Register it with a prometheus.Registerer
// or use MustRegister.
func NewCollector() *Collector {
	labels := []string{"transport"}
	return &Collector{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections opened, by transport.",
		}, labels),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connections currently open, by transport.",
		}, labels),
		bytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Payload bytes received, by transport.",
		}, labels),
		bytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes written, by transport.",
		}, labels),
		totals: make(map[string]*Stats),
	}
}

// MustRegister registers the collector with r and returns it.
func (c *Collector) MustRegister(r prometheus.Registerer) *Collector {
	r.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.accepted.Describe(ch)
	c.active.Describe(ch)
	c.bytesIn.Describe(ch)
	c.bytesOut.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.accepted.Collect(ch)
	c.active.Collect(ch)
	c.bytesIn.Collect(ch)
	c.bytesOut.Collect(ch)
}

func (c *Collector) ConnOpened(transport string) {
	c.accepted.WithLabelValues(transport).Inc()
	c.active.WithLabelValues(transport).Inc()
	c.update(transport, func(s *Stats) {
		s.Accepted++
		s.Active++
	})
}

func (c *Collector) ConnClosed(transport string) {
	c.active.WithLabelValues(transport).Dec()
	c.update(transport, func(s *Stats) { s.Active-- })
}

func (c *Collector) BytesIn(transport string, n int) {
	c.bytesIn.WithLabelValues(transport).Add(float64(n))
	c.update(transport, func(s *Stats) { s.BytesIn += uint64(n) })
}

func (c *Collector) BytesOut(transport string, n int) {
	c.bytesOut.WithLabelValues(transport).Add(float64(n))
	c.update(transport, func(s *Stats) { s.BytesOut += uint64(n) })
}

func (c *Collector) update(transport string, fn func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.totals[transport]
	if !ok {
		s = &Stats{}
		c.totals[transport] = s
	}
	fn(s)
}

// Snapshot returns a copy of the counters keyed by transport, for logging.
func (c *Collector) Snapshot() map[string]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Stats, len(c.totals))
	for k, v := range c.totals {
		out[k] = *v
	}
	return out
}
