// Package metrics holds the Prometheus collectors of batch runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job statuses used as label values.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusCrashed   = "crashed"
)

var (
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpfba_batches_total",
		Help: "Total number of batch runs by outcome",
	}, []string{"outcome"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpfba_jobs_total",
		Help: "Total number of merge and simulate jobs by status",
	}, []string{"sim_type", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpfba_job_duration_seconds",
		Help:    "Wall time of one job including the worker process",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"sim_type"})

	SolverFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpfba_solver_failures_total",
		Help: "Jobs whose optimization failed and recorded zero flux",
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpfba_jobs_active",
		Help: "Number of jobs currently running",
	})
)
