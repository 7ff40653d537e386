package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy_engine",
			Name:      "runs_total",
			Help:      "Total number of remediation runs, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedy_engine",
			Name:      "run_seconds",
			Help:      "End-to-end remediation run latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	jobPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedy_engine",
			Name:      "job_polls_total",
			Help:      "Status poll requests issued against the automation runner.",
		},
	)

	oracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy_engine",
			Name:      "oracle_requests_total",
			Help:      "Decision-oracle invocations, partitioned by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

// Register attaches remedy-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		jobPollsTotal,
		oracleRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a completed remediation run with its terminal status.
func ObserveRun(duration time.Duration, status string) {
	runsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveJobPoll counts one status poll against the automation runner.
func ObserveJobPoll() {
	jobPollsTotal.Inc()
}

// ObserveOracleRequest counts one oracle invocation.
func ObserveOracleRequest(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	oracleRequestsTotal.WithLabelValues(op, outcome).Inc()
}
