package vsockstack

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespaceVsock = "vsockmux"

var (
	packetsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceVsock,
		Name:      "packets_received_total",
		Help:      "Inbound vsock packets by operation.",
	},
		[]string{"op"},
	)

	packetsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceVsock,
		Name:      "packets_dropped_total",
		Help:      "Inbound vsock packets discarded without a reply.",
	},
		[]string{"reason"},
	)

	repliesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceVsock,
		Name:      "replies_sent_total",
		Help:      "Control replies written to the driver by operation.",
	},
		[]string{"op"},
	)

	replyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceVsock,
		Name:      "reply_errors_total",
		Help:      "Control replies the driver failed to send.",
	})

	overflowBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceVsock,
		Name:      "receive_overflow_bytes_total",
		Help:      "Payload bytes discarded because a receive buffer was full.",
	})

	boundConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceVsock,
		Name:      "bound_connections",
		Help:      "Connections currently bound in the registry.",
	})
)

// RegisterMetrics registers the stack collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(packetsReceived)
	reg.MustRegister(packetsDropped)
	reg.MustRegister(repliesSent)
	reg.MustRegister(replyErrors)
	reg.MustRegister(overflowBytes)
	reg.MustRegister(boundConnections)
}
