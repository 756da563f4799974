package observability

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the mesh counters and gauges. A nil *Recorder records nothing.
type Recorder struct {
    gatherer prometheus.Gatherer

    sent        *prometheus.CounterVec
    received    prometheus.Counter
    relayed     prometheus.Counter
    dropped     *prometheus.CounterVec
    discovery   *prometheus.CounterVec
    pendingDrop *prometheus.CounterVec

    peers   prometheus.Gauge
    routes  prometheus.Gauge
    pending prometheus.Gauge
}

// NewRecorder registers the mesh metrics on reg. A nil reg gets a private registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
    if reg == nil { reg = prometheus.NewRegistry() }
    r := &Recorder{
        gatherer: reg,
        sent: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "meshchat_messages_sent_total", Help: "Locally originated messages by send path.",
        }, []string{"path"}),
        received: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "meshchat_messages_received_total", Help: "Envelopes delivered to this node.",
        }),
        relayed: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "meshchat_envelopes_relayed_total", Help: "Envelopes forwarded for other peers.",
        }),
        dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "meshchat_envelopes_dropped_total", Help: "Envelopes dropped while relaying.",
        }, []string{"reason"}),
        discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "meshchat_discovery_total", Help: "Route discovery messages by action.",
        }, []string{"action"}),
        pendingDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "meshchat_pending_dropped_total", Help: "Queued messages given up on.",
        }, []string{"reason"}),
        peers: prometheus.NewGauge(prometheus.GaugeOpts{
            Name: "meshchat_connected_peers", Help: "Directly connected peers.",
        }),
        routes: prometheus.NewGauge(prometheus.GaugeOpts{
            Name: "meshchat_routes", Help: "Entries in the routing table.",
        }),
        pending: prometheus.NewGauge(prometheus.GaugeOpts{
            Name: "meshchat_pending_messages", Help: "Messages waiting for a route.",
        }),
    }
    reg.MustRegister(r.sent, r.received, r.relayed, r.dropped, r.discovery, r.pendingDrop, r.peers, r.routes, r.pending)
    return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
    if r == nil { return http.NotFoundHandler() }
    return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) Sent(path string) {
    if r == nil { return }
    r.sent.WithLabelValues(path).Inc()
}

func (r *Recorder) Received() {
    if r == nil { return }
    r.received.Inc()
}

func (r *Recorder) Relayed() {
    if r == nil { return }
    r.relayed.Inc()
}

func (r *Recorder) Dropped(reason string) {
    if r == nil { return }
    r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) Discovery(action string) {
    if r == nil { return }
    r.discovery.WithLabelValues(action).Inc()
}

func (r *Recorder) PendingDropped(reason string) {
    if r == nil { return }
    r.pendingDrop.WithLabelValues(reason).Inc()
}

// Gauges sets the state gauges in one call.
func (r *Recorder) Gauges(peers, routes, pending int) {
    if r == nil { return }
    r.peers.Set(float64(peers))
    r.routes.Set(float64(routes))
    r.pending.Set(float64(pending))
}
