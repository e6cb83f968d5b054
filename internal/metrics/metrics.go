// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Total number of submission state transitions",
		},
		[]string{"status"},
	)

	SubmissionGrade = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "submission_grade",
			Help:    "Distribution of final submission grades",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		},
	)

	GradebookPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebook_pushes_total",
			Help: "Gradebook pushes by sink and result",
		},
		[]string{"sink", "result"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
