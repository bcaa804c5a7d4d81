package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wesync"

// Client holds the connection manager collectors.
type Client struct {
	Status            prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	GiveUps           prometheus.Counter
	Events            *prometheus.CounterVec
}

// NewClient builds the client collectors and registers them on reg when it is non-nil.
func NewClient(reg prometheus.Registerer) *Client {
	c := &Client{
		Status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connection_status",
			Help:      "Connection status: 0 disconnected, 1 connecting, 2 connected.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		GiveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnect_give_ups_total",
			Help:      "Times the reconnect cap was reached.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "events_received_total",
			Help:      "Inbound push events by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(c.Status, c.ReconnectAttempts, c.GiveUps, c.Events)
	}
	return c
}

// Server holds the mock backend hub collectors.
type Server struct {
	Connections prometheus.Gauge
	Pushes      *prometheus.CounterVec
}

func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connected_clients",
			Help:      "Websocket clients registered on this instance.",
		}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "pushes_total",
			Help:      "Events pushed to clients by kind.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(s.Connections, s.Pushes)
	}
	return s
}

// Handler returns an http.Handler for Prometheus scraping of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
