package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder counts operator commands and their latency. A nil Recorder
// discards observations.
type Recorder struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the command metrics on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jailer",
		Name:      "requests_total",
		Help:      "Operator commands executed, by operation and outcome.",
	}, []string{"operation", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jailer",
		Name:      "request_duration_seconds",
		Help:      "Wall time of operator commands.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	registry.MustRegister(requests, duration)

	return &Recorder{
		registry: registry,
		requests: requests,
		duration: duration,
	}
}

// Observe records one command execution.
func (r *Recorder) Observe(operation string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	r.requests.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Push sends the collected metrics to a Prometheus Pushgateway.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return errors.New("pushgateway url is required")
	}
	if job == "" {
		job = "jailer"
	}
	return push.New(gatewayURL, job).Gatherer(r.registry).PushContext(ctx)
}
