// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JaimeStill/arbor/pkg/httpclient"
)

var (
	// RecognitionRequests counts attempts against the recognition service.
	RecognitionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_recognition_requests_total",
			Help: "Total number of recognition service attempts",
		},
		[]string{"path", "code"},
	)

	// RecognitionLatency tracks per-attempt latency.
	RecognitionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbor_recognition_latency_seconds",
			Help:    "Recognition service attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// RecognitionRetries counts retries scheduled by workflow operations.
	RecognitionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_recognition_retries_total",
			Help: "Total number of recognition retries",
		},
		[]string{"operation"},
	)

	// ImageUploads counts image persistence outcomes.
	ImageUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_image_uploads_total",
			Help: "Total number of image persistence outcomes",
		},
		[]string{"result"},
	)

	// WorkflowRuns counts workflow executions by outcome.
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_workflow_runs_total",
			Help: "Total number of workflow runs",
		},
		[]string{"workflow", "outcome"},
	)
)

// Observe records one recognition attempt. It is registered with
// httpclient.WithObserver.
func Observe(o httpclient.Observation) {
	r := route(o.Path)
	RecognitionRequests.WithLabelValues(r, code(o)).Inc()
	RecognitionLatency.WithLabelValues(r).Observe(o.Duration.Seconds())
}

// route collapses provider ids out of conversation paths to keep label
// cardinality bounded.
func route(p string) string {
	if strings.HasSuffix(p, "/conversation") {
		return "conversation"
	}
	return path.Base(p)
}

func code(o httpclient.Observation) string {
	if o.StatusCode > 0 {
		return strconv.Itoa(o.StatusCode)
	}

	var te *httpclient.TransportError
	if errors.As(o.Err, &te) {
		return "transport"
	}
	if o.Err != nil {
		return "error"
	}
	return "unknown"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
