// Package metrics exposes the pipeline counters through Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// Prometheus implements types.Metrics.
type Prometheus struct {
	Enqueued        *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	Processed       *prometheus.CounterVec
	Failed          *prometheus.CounterVec
	Retried         *prometheus.CounterVec
	DeadLettered    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
	ReindexEnqueued *prometheus.CounterVec
}

var _ types.Metrics = (*Prometheus)(nil)

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		// Producer
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_enqueue_total",
			Help: "The total number of enqueue calls by result",
		}, []string{"index", "result"}),

		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexsync_publish_duration_seconds",
			Help:    "The latency of a single queue publish, retries included",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"result"}),

		// Worker
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_jobs_processed_total",
			Help: "The total number of jobs applied to the search index",
		}, []string{"action", "index"}),

		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_jobs_failed_total",
			Help: "The total number of failed job attempts",
		}, []string{"action", "index", "status", "permanent"}),

		Retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_jobs_retried_total",
			Help: "The total number of retries scheduled",
		}, []string{"action", "index"}),

		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_jobs_dead_lettered_total",
			Help: "The total number of jobs moved to the dead-letter store",
		}, []string{"index", "reason"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexsync_job_duration_seconds",
			Help:    "The latency of a single adapter call",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action", "index"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexsync_queue_depth",
			Help: "The number of jobs waiting in the queue",
		}),

		// Reindexer
		ReindexEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexsync_reindex_enqueued_total",
			Help: "The total number of jobs enqueued by the reindexer",
		}, []string{"entity"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Enqueued,
			m.PublishDuration,
			m.Processed,
			m.Failed,
			m.Retried,
			m.DeadLettered,
			m.JobDuration,
			m.QueueDepth,
			m.ReindexEnqueued,
		)
	}
	return m
}

func (m *Prometheus) IncEnqueue(indexName, result string) {
	m.Enqueued.WithLabelValues(indexName, result).Inc()
}

// ObservePublish matches pubsub.PublisherOptions.OnPublish. The subject is
// not a label: it carries tenant and document ids.
func (m *Prometheus) ObservePublish(_ string, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.PublishDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Prometheus) IncProcessed(action types.Action, indexName string) {
	m.Processed.WithLabelValues(string(action), indexName).Inc()
}

func (m *Prometheus) IncFailed(action types.Action, indexName string, status int, permanent bool) {
	m.Failed.WithLabelValues(string(action), indexName, strconv.Itoa(status), strconv.FormatBool(permanent)).Inc()
}

func (m *Prometheus) IncRetried(action types.Action, indexName string) {
	m.Retried.WithLabelValues(string(action), indexName).Inc()
}

func (m *Prometheus) IncDeadLettered(indexName, reason string) {
	m.DeadLettered.WithLabelValues(indexName, reason).Inc()
}

func (m *Prometheus) ObserveJobDuration(action types.Action, indexName string, d time.Duration) {
	m.JobDuration.WithLabelValues(string(action), indexName).Observe(d.Seconds())
}

func (m *Prometheus) SetQueueDepth(depth uint64) {
	m.QueueDepth.Set(float64(depth))
}

func (m *Prometheus) AddReindexEnqueued(entity string, n int) {
	if n <= 0 {
		return
	}
	m.ReindexEnqueued.WithLabelValues(entity).Add(float64(n))
}
