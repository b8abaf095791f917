package telemetry

import "github.com/prometheus/client_golang/prometheus"

const hubNamespace string = "broadcast_hub"

var (
	promConnectionTotal       *prometheus.GaugeVec
	SignalingOperationCounter *prometheus.CounterVec
)

func init() {
	promConnectionTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: hubNamespace,
		Subsystem: "connection",
		Name:      "total",
	}, []string{"channel"})

	SignalingOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: hubNamespace,
			Subsystem: "signaling",
			Name:      "operation",
		},
		[]string{"event", "status"},
	)

	prometheus.MustRegister(promConnectionTotal)
	prometheus.MustRegister(SignalingOperationCounter)
}

func ConnectionOpened(channel string) {
	promConnectionTotal.WithLabelValues(channel).Inc()
}

func ConnectionClosed(channel string) {
	promConnectionTotal.WithLabelValues(channel).Dec()
}

func SignalingOperation(event, status string) {
	SignalingOperationCounter.WithLabelValues(event, status).Inc()
}
