package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the message log workers.
type Metrics struct {
	// Messages logged by side ("client", "server") and outcome ("ok", "refused", "error")
	MessagesLogged *prometheus.CounterVec

	// TSA attempts by URL and result code
	TimestampAttempts *prometheus.CounterVec

	// Round trip of one TSA attempt
	TimestampLatency *prometheus.HistogramVec

	// Records covered by one successful stamp
	BatchSize prometheus.Histogram

	// Records waiting for a timestamp, -1 when unknown
	QueueSize prometheus.Gauge

	// 1 while the failure window is open
	TimestampFailing prometheus.Gauge

	// Records and units written by the archiver
	ArchivedRecords prometheus.Counter
	ArchiveUnits    prometheus.Counter

	// Rows removed by the cleaner by kind ("records", "units")
	Cleaned *prometheus.CounterVec

	// Periodic job failures by job name
	JobFailures *prometheus.CounterVec
}

// New registers the message log metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msglog_messages_logged_total",
			Help: "Total log requests by side and outcome",
		}, []string{"side", "outcome"}),

		TimestampAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msglog_timestamp_attempts_total",
			Help: "Total time-stamping attempts by TSA URL and result code",
		}, []string{"tsa_url", "code"}),

		TimestampLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msglog_timestamp_duration_seconds",
			Help:    "Duration of a single TSA round trip",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tsa_url"}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "msglog_timestamp_batch_size",
			Help:    "Number of message records covered by one time-stamp",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "msglog_queue_size",
			Help: "Message records waiting for a time-stamp (-1 when unknown)",
		}),

		TimestampFailing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "msglog_timestamp_failing",
			Help: "Set to 1 while time-stamping is in a failed state",
		}),

		ArchivedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "msglog_archived_records_total",
			Help: "Total message records written to archive units",
		}),

		ArchiveUnits: factory.NewCounter(prometheus.CounterOpts{
			Name: "msglog_archive_units_total",
			Help: "Total sealed archive units",
		}),

		Cleaned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msglog_cleaned_total",
			Help: "Total rows or files removed by the cleaner",
		}, []string{"kind"}),

		JobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msglog_job_failures_total",
			Help: "Total failed runs of periodic jobs",
		}, []string{"job"}),
	}
}

// IncrementLogged records a log request outcome.
func (m *Metrics) IncrementLogged(side, outcome string) {
	if m != nil {
		m.MessagesLogged.WithLabelValues(side, outcome).Inc()
	}
}

// ObserveAttempt records one TSA attempt.
func (m *Metrics) ObserveAttempt(url, code string, d time.Duration) {
	if m != nil {
		m.TimestampAttempts.WithLabelValues(url, code).Inc()
		m.TimestampLatency.WithLabelValues(url).Observe(d.Seconds())
	}
}

// ObserveBatch records the size of a stamped batch.
func (m *Metrics) ObserveBatch(size int) {
	if m != nil {
		m.BatchSize.Observe(float64(size))
	}
}

// SetQueueSize publishes the pending queue size. Negative means unknown.
func (m *Metrics) SetQueueSize(size int) {
	if m != nil {
		m.QueueSize.Set(float64(size))
	}
}

// SetFailing publishes the failure state.
func (m *Metrics) SetFailing(failing bool) {
	if m != nil {
		v := 0.0
		if failing {
			v = 1
		}
		m.TimestampFailing.Set(v)
	}
}

// AddArchived records a sealed unit with n records.
func (m *Metrics) AddArchived(n int) {
	if m != nil {
		m.ArchiveUnits.Inc()
		m.ArchivedRecords.Add(float64(n))
	}
}

// AddCleaned records removed rows or files.
func (m *Metrics) AddCleaned(kind string, n int) {
	if m != nil && n > 0 {
		m.Cleaned.WithLabelValues(kind).Add(float64(n))
	}
}

// IncrementJobFailure records a failed periodic run.
func (m *Metrics) IncrementJobFailure(job string) {
	if m != nil {
		m.JobFailures.WithLabelValues(job).Inc()
	}
}
