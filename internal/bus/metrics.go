package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley_bus",
			Name:      "events_published_total",
			Help:      "Events accepted by Publish, per topic.",
		},
		[]string{"topic"},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley_bus",
			Name:      "events_dropped_total",
			Help:      "Events evicted from subscriber queues.",
		},
		[]string{"topic", "reason"},
	)
)
