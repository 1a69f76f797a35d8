package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_stored_total",
			Help: "Total number of persisted chat messages.",
		},
	)

	DuplicatesSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_duplicates_suppressed_total",
			Help: "Total number of sends suppressed by an already-seen idempotency token.",
		},
	)

	MessagesEditedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_edited_total",
			Help: "Total number of in-place message edits.",
		},
	)

	MessagesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Total number of per-viewer message deletions, bulk contact removals included.",
		},
	)

	LiveDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_live_deliveries_total",
			Help: "Total number of events pushed to connected participants.",
		},
		[]string{"event"},
	)

	HistoryFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_history_fetched_total",
			Help: "Total number of history fetch operations.",
		},
	)

	OpenConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_open_connections",
			Help: "Currently open websocket connections.",
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		MessagesStoredTotal,
		DuplicatesSuppressedTotal,
		MessagesEditedTotal,
		MessagesDeletedTotal,
		LiveDeliveriesTotal,
		HistoryFetchedTotal,
		OpenConnections,
	)
}
