package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports coordination and relay activity. It implements
// services.Recorder.
type PrometheusCollector struct {
	participantsConnected prometheus.Gauge
	participantsWaiting   prometheus.Gauge
	meetingsDestroyed     prometheus.Counter
	joinsTotal            prometheus.Counter
	leavesTotal           prometheus.Counter

	signalsRelayed  *prometheus.CounterVec
	unicastsDropped *prometheus.CounterVec

	connectionsOpen prometheus.Gauge
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_participants_connected",
			Help: "Number of participants currently in a roster",
		}),

		participantsWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_participants_waiting",
			Help: "Number of participants waiting for admission",
		}),

		meetingsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_meetings_destroyed_total",
			Help: "Total number of instant meetings destroyed after draining",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_joins_total",
			Help: "Total number of successful joins",
		}),

		leavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_leaves_total",
			Help: "Total number of leaves",
		}),

		signalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_signals_relayed_total",
			Help: "Total number of relayed signaling messages",
		}, []string{"kind", "routing"}),

		unicastsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_unicasts_dropped_total",
			Help: "Total number of unicast signals dropped for disconnected targets",
		}, []string{"kind"}),

		connectionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_connections_open",
			Help: "Number of open websocket connections",
		}),
	}
}

func (p *PrometheusCollector) ParticipantJoined() {
	p.joinsTotal.Inc()
	p.participantsConnected.Inc()
}

func (p *PrometheusCollector) ParticipantLeft() {
	p.leavesTotal.Inc()
	p.participantsConnected.Dec()
}

func (p *PrometheusCollector) MeetingDestroyed() {
	p.meetingsDestroyed.Inc()
}

func (p *PrometheusCollector) WaitingDelta(delta int) {
	p.participantsWaiting.Add(float64(delta))
}

func (p *PrometheusCollector) MessageRelayed(kind, routing string) {
	p.signalsRelayed.WithLabelValues(kind, routing).Inc()
}

func (p *PrometheusCollector) UnicastDropped(kind string) {
	p.unicastsDropped.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsOpen.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsOpen.Dec()
}
