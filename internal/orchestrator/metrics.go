package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exposes Prometheus collectors reporting orchestrator
// activity. Callers supply the registerer so tests can use a fresh
// registry instead of the global one.
type Collectors struct {
	tasksTotal      *prometheus.CounterVec
	taskDuration    prometheus.Histogram
	executionsTotal *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// MustNewCollectors constructs and registers the collectors. Duplicate
// registration panics.
func MustNewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Tasks reaching a terminal status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Wall time of task dispatch including the model call.",
			Buckets:   prometheus.DefBuckets,
		}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "orchestrator",
			Name:      "executions_total",
			Help:      "Workflow executions reaching a terminal status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "orchestrator",
			Name:      "queue_depth",
			Help:      "Tasks currently waiting in the queue.",
		}),
	}
	reg.MustRegister(c.tasksTotal, c.taskDuration, c.executionsTotal, c.queueDepth)
	return c
}

func (c *Collectors) taskFinished(status TaskStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(string(status)).Inc()
	c.taskDuration.Observe(d.Seconds())
}

func (c *Collectors) executionFinished(status ExecutionStatus) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(string(status)).Inc()
}

func (c *Collectors) setQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
