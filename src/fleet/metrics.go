package fleet

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/opcodes"
)

// Metrics are the prometheus collectors fed from shard events.
type Metrics struct {
	heartbeats       *prometheus.CounterVec
	heartbeatLatency *prometheus.HistogramVec
	closes           *prometheus.CounterVec
	identifies       *prometheus.CounterVec
	resumes          *prometheus.CounterVec
	replayed         prometheus.Counter
	dispatches       *prometheus.CounterVec
	ready            *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeats sent per shard",
		}, []string{"shard"}),

		heartbeatLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "heartbeat_latency_seconds",
			Help:      "Time between a heartbeat and its acknowledgement",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"shard"}),

		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "closes_total",
			Help:      "Connection closes by close code",
		}, []string{"shard", "code", "reason"}),

		identifies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "identifies_total",
			Help:      "IDENTIFY frames sent",
		}, []string{"shard"}),

		resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "resumes_total",
			Help:      "RESUME frames sent",
		}, []string{"shard"}),

		replayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "resume_replayed_events_total",
			Help:      "Dispatches replayed by the gateway while resuming",
		}),

		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "dispatches_total",
			Help:      "Dispatch events received by type",
		}, []string{"type"}),

		ready: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "shard_ready",
			Help:      "1 while the shard has a ready or resumed session",
		}, []string{"shard"}),
	}
}

// Observe records one shard event. A nil *Metrics is a no-op.
func (m *Metrics) Observe(e client.Event) {
	if m == nil {
		return
	}
	shard := strconv.Itoa(e.Shard)

	switch e.Kind {
	case client.EventHeartbeatSent:
		m.heartbeats.WithLabelValues(shard).Inc()
	case client.EventHeartbeatAck:
		m.heartbeatLatency.WithLabelValues(shard).Observe(e.Latency.Seconds())
	case client.EventIdentifySent:
		m.identifies.WithLabelValues(shard).Inc()
	case client.EventResumeSent:
		m.resumes.WithLabelValues(shard).Inc()
	case client.EventReady:
		m.ready.WithLabelValues(shard).Set(1)
	case client.EventResumed:
		m.ready.WithLabelValues(shard).Set(1)
		m.replayed.Add(float64(e.Replayed))
	case client.EventClose:
		m.ready.WithLabelValues(shard).Set(0)
		m.closes.WithLabelValues(shard, strconv.Itoa(e.Code), opcodes.CloseName(e.Code)).Inc()
	case client.EventDispatch:
		m.dispatches.WithLabelValues(e.Type).Inc()
	}
}
