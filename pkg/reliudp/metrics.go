package reliudp

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricInfo struct {
	desc     *prometheus.Desc
	kind     prometheus.ValueType
	supplier func(c *Conn) float64
}

// Metrics is a Prometheus collector reporting per-connection sliding-window
// occupancy, lifecycle state, and the unreliable shim's emit counters.
// Connections register on successful handshake and are dropped from the
// next Collect pass once CLOSED.
type Metrics struct {
	mu    sync.Mutex
	conns map[string]*Conn
	infos []metricInfo
}

// NewMetrics builds a collector. Register it on a prometheus.Registry and
// pass it to Bind via WithMetrics so connections it produces report here.
func NewMetrics() *Metrics {
	m := &Metrics{conns: make(map[string]*Conn)}
	m.infos = []metricInfo{
		{
			desc: prometheus.NewDesc("reliudp_connection_state", "Current connection state ordinal.", []string{"conn_id"}, nil),
			kind: prometheus.GaugeValue,
			supplier: func(c *Conn) float64 { return float64(c.State()) },
		},
		{
			desc: prometheus.NewDesc("reliudp_unacked_segments", "Segments currently awaiting acknowledgement.", []string{"conn_id"}, nil),
			kind: prometheus.GaugeValue,
			supplier: func(c *Conn) float64 {
				c.mu.Lock()
				defer c.mu.Unlock()
				return float64(len(c.unacked))
			},
		},
		{
			desc: prometheus.NewDesc("reliudp_frames_emitted_total", "Frames written to the socket by the shim.", []string{"conn_id"}, nil),
			kind: prometheus.CounterValue,
			supplier: func(c *Conn) float64 { c.mu.Lock(); defer c.mu.Unlock(); return float64(c.sh.Stats().Emitted) },
		},
		{
			desc: prometheus.NewDesc("reliudp_frames_dropped_total", "Frames silently dropped by the shim's loss injection.", []string{"conn_id"}, nil),
			kind: prometheus.CounterValue,
			supplier: func(c *Conn) float64 { c.mu.Lock(); defer c.mu.Unlock(); return float64(c.sh.Stats().Dropped) },
		},
		{
			desc: prometheus.NewDesc("reliudp_frames_duplicated_total", "Frames duplicated by the shim's dup injection.", []string{"conn_id"}, nil),
			kind: prometheus.CounterValue,
			supplier: func(c *Conn) float64 { c.mu.Lock(); defer c.mu.Unlock(); return float64(c.sh.Stats().Duplicated) },
		},
		{
			desc: prometheus.NewDesc("reliudp_frames_corrupted_total", "Frames corrupted by the shim's corrupt injection.", []string{"conn_id"}, nil),
			kind: prometheus.CounterValue,
			supplier: func(c *Conn) float64 { c.mu.Lock(); defer c.mu.Unlock(); return float64(c.sh.Stats().Corrupted) },
		},
	}
	return m
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range m.infos {
		descs <- info.desc
	}
}

// Collect implements prometheus.Collector. A connection that has reached
// CLOSED is reported one final time, then dropped.
func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.conns {
		for _, info := range m.infos {
			metrics <- prometheus.MustNewConstMetric(info.desc, info.kind, info.supplier(c), id)
		}
		if c.State() == StateClosed {
			delete(m.conns, id)
		}
	}
}

func (m *Metrics) addConn(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.id] = c
}

// removeConn drops a connection from the collector immediately, for callers
// that want it gone before the next Collect pass.
func (m *Metrics) removeConn(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}
