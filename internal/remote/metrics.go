package remote

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	upstreamOnce    sync.Once
	upstreamLatency *prometheus.HistogramVec
)

func upstreamMetrics() *prometheus.HistogramVec {
	upstreamOnce.Do(func() {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dealership",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of calls to the dealer and sentiment services",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"service", "method", "status"})
		if err := prometheus.Register(vec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					vec = existing
				}
			}
		}
		upstreamLatency = vec
	})
	return upstreamLatency
}

// observeUpstream records one upstream call; status 0 means no response.
func observeUpstream(service, method string, status int, d time.Duration) {
	upstreamMetrics().With(prometheus.Labels{
		"service": service,
		"method":  method,
		"status":  strconv.Itoa(status),
	}).Observe(d.Seconds())
}
