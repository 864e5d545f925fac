package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("modagent")

var postsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modagent_posts_processed",
	Help: "Number of posts read and scored",
})

var postsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modagent_posts_failed",
	Help: "Number of post processing failures (read, dispatch, or panic)",
})

var postsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modagent_posts_abandoned",
	Help: "Number of posts dropped after exhausting retries",
})

var dispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modagent_dispatch_outcomes",
	Help: "Flag dispatch outcomes",
}, []string{"outcome"})

var dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modagent_dispatch_failures",
	Help: "Flag dispatch failures, by stage",
}, []string{"stage"})

var cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "modagent_cycle_duration_sec",
	Help:    "Duration of poll cycles",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
})

var countFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modagent_count_failures",
	Help: "Number of poll cycles which could not read the post count",
})

var currentCursor = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "modagent_current_cursor",
	Help: "Highest post id handled",
})

var retryQueueLen = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "modagent_retry_queue_len",
	Help: "Number of posts waiting for a retry",
})
