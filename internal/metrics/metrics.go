package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Name:      "download_events_total",
			Help:      "Count of download events processed by the scheduler loop.",
		},
		[]string{"type"},
	)

	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Name:      "state_transitions_total",
			Help:      "Count of published DownloadRecord state transitions, by resulting state.",
		},
		[]string{"state"},
	)

	WorkerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Name:      "worker_retries_total",
			Help:      "Count of fetch-worker retry attempts after a transient I/O error.",
		},
	)

	IndexErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Name:      "index_errors_total",
			Help:      "Count of Index I/O errors, logged and swallowed by the scheduler loop.",
		},
		[]string{"op"},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamctl",
			Name:      "active_downloads",
			Help:      "Number of active fetch workers currently held by the scheduler.",
		},
	)
)

// Register registers the streamctl metrics into the default registry.
func Register() {
	prometheus.MustRegister(DownloadEvents, StateTransitions, WorkerRetries, IndexErrors, ActiveDownloads)
}
