// Package diagnostics keeps the last time-stamping outcome per TSA URL for
// monitoring consumers.
package diagnostics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"msglog/internal/messagelog/metrics"
)

// Status is the last known state of one TSA endpoint.
type Status struct {
	ReturnCode ReturnCode `json:"returnCode"`
	Time       time.Time  `json:"time"`
	URL        string     `json:"url"`
}

// Tracker is a concurrent map of TSA URL to Status. Updates to different URLs
// never contend on a shared lock.
type Tracker struct {
	statuses sync.Map // string -> Status
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithMetrics publishes every attempt to Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init marks each URL as not yet attempted and forgets URLs no longer configured.
func (t *Tracker) Init(urls []string, at time.Time) {
	keep := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		keep[url] = struct{}{}
		t.statuses.LoadOrStore(url, Status{ReturnCode: ErrorCodeUninitialized, Time: at, URL: url})
	}
	t.statuses.Range(func(key, _ any) bool {
		if _, ok := keep[key.(string)]; !ok {
			t.statuses.Delete(key)
		}
		return true
	})
}

// Set records the outcome for one URL. Last write wins.
func (t *Tracker) Set(url string, code ReturnCode, at time.Time) {
	t.statuses.Store(url, Status{ReturnCode: code, Time: at, URL: url})
}

// SetAll records the same outcome for every URL.
func (t *Tracker) SetAll(urls []string, code ReturnCode, at time.Time) {
	for _, url := range urls {
		t.Set(url, code, at)
	}
}

// ObserveAttempt records a single TSA attempt. err is nil on success.
func (t *Tracker) ObserveAttempt(url string, err error, at time.Time, took time.Duration) {
	code := CodeFor(err)
	t.Set(url, code, at)
	t.metrics.ObserveAttempt(url, code.String(), took)
	if err != nil {
		t.logger.Warn("time-stamping attempt failed",
			"tsa_url", url,
			"code", code.String(),
			"duration", took,
			"error", err,
		)
	}
}

// Get returns the status for url.
func (t *Tracker) Get(url string) (Status, bool) {
	v, ok := t.statuses.Load(url)
	if !ok {
		return Status{}, false
	}
	return v.(Status), true
}

// Snapshot copies the current statuses.
func (t *Tracker) Snapshot() map[string]Status {
	out := make(map[string]Status)
	t.statuses.Range(func(key, value any) bool {
		out[key.(string)] = value.(Status)
		return true
	})
	return out
}

// URLs lists the tracked URLs in sorted order.
func (t *Tracker) URLs() []string {
	var urls []string
	t.statuses.Range(func(key, _ any) bool {
		urls = append(urls, key.(string))
		return true
	})
	sort.Strings(urls)
	return urls
}
