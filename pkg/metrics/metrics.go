// Package metrics holds the gateway's prometheus collectors, registered
// at init() the way cmd/tempo-vulture/metrics.go registers its package-level
// counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "saimiris_gateway"

var (
	// SubmissionsTotal counts POST /probes outcomes by disposition
	// (ok, bad_request, forbidden, quota_exceeded, internal).
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "total probe submissions by outcome",
		},
		[]string{"outcome"},
	)

	// ProbesPublishedTotal counts probes actually fanned out to agents
	// (submitted count x assigned agents, per submission).
	ProbesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_published_total",
			Help:      "total probes published to the bus across all agents",
		},
	)

	// BatchBytes observes the encoded size of each published batch.
	BatchBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_bytes",
			Help:      "encoded size in bytes of each published probe batch",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		},
	)

	// PublishDurationSeconds observes the wall time of one bus Publish
	// call.
	PublishDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "duration of a single bus publish call",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// StaleAgentsRemovedTotal counts agents evicted by the periodic
	// stale-agent sweep (§5).
	StaleAgentsRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_agents_removed_total",
			Help:      "total agents evicted by the stale-agent sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		ProbesPublishedTotal,
		BatchBytes,
		PublishDurationSeconds,
		StaleAgentsRemovedTotal,
	)
}
