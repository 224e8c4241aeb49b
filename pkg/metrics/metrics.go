package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Preview Metrics
	PreviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_sync_previews_total",
		Help: "The total number of diff previews computed, by kind and result",
	}, []string{"kind", "result"})
	PreviewChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_sync_preview_changes_total",
		Help: "The total number of changed entities reported by previews, by kind and bucket",
	}, []string{"kind", "bucket"})

	// Upstream Metrics
	UpstreamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_sync_upstream_failures_total",
		Help: "The total number of failed upstream calls, by source and error code",
	}, []string{"source", "code"})
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_sync_upstream_latency_seconds",
		Help:    "Latency of upstream API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// Commit Metrics
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_sync_commits_total",
		Help: "The total number of commits, by kind and result",
	}, []string{"kind", "result"})
	CommitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_sync_commit_latency_seconds",
		Help:    "Latency of commit transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	AuditPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_sync_audit_publish_errors_total",
		Help: "The total number of audit events that could not be published to Kafka",
	})

	// Trigger Metrics
	SyncRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_sync_requests_total",
		Help: "The total number of sync requests consumed from Kafka, by kind and outcome",
	}, []string{"kind", "outcome"})
)

// Result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Outcome returns the result label for err
func Outcome(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
