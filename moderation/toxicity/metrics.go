package toxicity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modagent_classifier_calls_total",
	Help: "Number of classifier calls, by backend and outcome",
}, []string{"backend", "outcome"})

var classifierDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "modagent_classifier_duration_seconds",
	Help:    "Duration of classifier calls, by backend",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
}, []string{"backend"})

var scoreCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modagent_score_cache_hits_total",
	Help: "Number of scores served from the score cache",
})
