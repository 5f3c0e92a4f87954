// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VotesCast counts accepted ballot upserts, including re-casts.
	VotesCast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reunion_votes_cast_total",
		Help: "Number of vote responses accepted (casts and re-casts).",
	})

	// BroadcastsSent counts room broadcasts handed to the hub.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reunion_broadcasts_total",
		Help: "Number of realtime broadcasts dispatched to meeting rooms.",
	})

	// WSConnections tracks currently connected websocket clients.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reunion_ws_connections",
		Help: "Currently connected websocket clients.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
