package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "commands_total",
		Help:      "Total engine commands by operation and outcome.",
	}, []string{"operation", "status"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "command_duration_seconds",
		Help:      "Engine command handling duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	ActiveTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "active_torrents",
		Help:      "Number of torrents currently tracked by the session.",
	})

	EventsFlushedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "events_flushed_total",
		Help:      "Total session events drained from the backend by kind.",
	}, []string{"kind"})

	ResumeSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "resume_saves_total",
		Help:      "Total fast-resume payload writes.",
	})

	ResumeSaveErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "resume_save_errors_total",
		Help:      "Total fast-resume payload write failures.",
	})

	WSClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "ws_clients_connected",
		Help:      "Number of connected WebSocket event consumers.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CommandsTotal,
		CommandDuration,
		ActiveTorrents,
		EventsFlushedTotal,
		ResumeSavesTotal,
		ResumeSaveErrorsTotal,
		WSClientsConnected,
	)
}

// RegisterBus exports bus counters through the given snapshot function.
func RegisterBus(reg prometheus.Registerer, stats func() (published, dropped uint64, subscribers int)) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "bus_events_published_total",
			Help:      "Total events published on the bus.",
		}, func() float64 {
			published, _, _ := stats()
			return float64(published)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "bus_events_dropped_total",
			Help:      "Total envelopes dropped on slow subscriber queues.",
		}, func() float64 {
			_, dropped, _ := stats()
			return float64(dropped)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "engine",
			Name:      "bus_subscribers",
			Help:      "Number of active bus subscriptions.",
		}, func() float64 {
			_, _, subscribers := stats()
			return float64(subscribers)
		}),
	)
}
