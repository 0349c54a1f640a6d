package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	Sessions      prometheus.Gauge
	Registered    prometheus.Gauge
	PresenceJoins prometheus.Counter
	Messages      *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	TypingDropped prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg. A nil reg
// leaves them unregistered, which keeps parallel gateways in tests apart.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labchat",
			Name:      "sessions",
			Help:      "Connected realtime sessions.",
		}),
		Registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labchat",
			Name:      "registered_identities",
			Help:      "Identities with a live session.",
		}),
		PresenceJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labchat",
			Name:      "presence_joins_total",
			Help:      "joinChat requests handled.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labchat",
			Name:      "messages_total",
			Help:      "Messages submitted, by result.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labchat",
			Name:      "deliveries_total",
			Help:      "Server events pushed to sessions, by event and result.",
		}, []string{"event", "result"}),
		TypingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labchat",
			Name:      "typing_dropped_total",
			Help:      "Typing indicators dropped by the rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sessions, m.Registered, m.PresenceJoins, m.Messages, m.Deliveries, m.TypingDropped)
	}
	return m
}

func (m *Metrics) delivered(event string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(event, result).Inc()
}
