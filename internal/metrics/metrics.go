package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Number of authenticated websocket connections on this instance.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages accepted from clients.",
	})
	MessagesRedelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_redelivered_total",
		Help: "Pending deliveries pushed to reconnecting recipients.",
	})
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_persist_failures_total",
		Help: "Best-effort persistence calls that failed and were skipped.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
