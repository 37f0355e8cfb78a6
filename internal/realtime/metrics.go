package realtime

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Connections prometheus.Gauge
	OnlineUsers prometheus.Gauge
	FramesIn    *prometheus.CounterVec
	Published   *prometheus.CounterVec
	Dropped     prometheus.Counter
	FrameErrors *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when it is not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gopherchat_connections",
			Help: "Live websocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gopherchat_online_users",
			Help: "Users with at least one live connection.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopherchat_inbound_frames_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopherchat_published_events_total",
			Help: "Events fanned out by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gopherchat_fanout_dropped_total",
			Help: "Deliveries dropped because a connection queue was full.",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopherchat_frame_errors_total",
			Help: "Error frames sent back to clients by code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.OnlineUsers, m.FramesIn, m.Published, m.Dropped, m.FrameErrors)
	}
	return m
}
