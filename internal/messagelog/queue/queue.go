// Package queue holds message records waiting for a batch timestamp and runs
// the drains that stamp them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"msglog/internal/messagelog/metrics"
	"msglog/internal/messagelog/models"
	"msglog/internal/messagelog/ports"
	"msglog/internal/messagelog/timestamper"
	"msglog/pkg/platform/sentinel"
)

// ErrSizeIndeterminate means the pending store could not be asked for its size.
var ErrSizeIndeterminate = errors.New("cannot determine queue size")

// DefaultMaxBatchSize bounds how many records one TimestampRecord covers.
const DefaultMaxBatchSize = 10000

// Stamper obtains a token for a group of records.
type Stamper interface {
	RequestTimestamp(ctx context.Context, records []*models.MessageRecord) (*timestamper.Succeeded, error)
}

// TaskQueue batches pending records to the Stamper. Enqueue is safe from any
// goroutine; at most one drain runs at a time.
type TaskQueue struct {
	store    PendingStore
	repo     ports.Repository
	stamper  Stamper
	poster   Poster
	maxBatch int

	drainMu      sync.Mutex
	needsRecover atomic.Bool

	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a TaskQueue.
type Option func(*TaskQueue)

// WithMaxBatchSize caps the number of records stamped together.
func WithMaxBatchSize(n int) Option {
	return func(q *TaskQueue) {
		if n > 0 {
			q.maxBatch = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(q *TaskQueue) {
		q.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *TaskQueue) {
		q.logger = logger
	}
}

// WithMetrics publishes queue size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *TaskQueue) {
		q.metrics = m
	}
}

// New creates a TaskQueue. SetPoster must be called before the first drain.
func New(store PendingStore, repo ports.Repository, stamper Stamper, opts ...Option) *TaskQueue {
	q := &TaskQueue{
		store:    store,
		repo:     repo,
		stamper:  stamper,
		maxBatch: DefaultMaxBatchSize,
		clock:    time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetPoster sets where drain outcomes go.
func (q *TaskQueue) SetPoster(p Poster) {
	q.poster = p
}

// Enqueue queues rec for the next drain. When the store rejects it the queue
// reloads unstamped records from the repository before the next drain.
func (q *TaskQueue) Enqueue(ctx context.Context, rec *models.MessageRecord) error {
	if err := q.store.Push(ctx, rec.ID); err != nil {
		q.needsRecover.Store(true)
		return fmt.Errorf("enqueue record %d: %w", rec.ID, err)
	}
	return nil
}

// SizeIfKnown returns the number of pending records or ErrSizeIndeterminate.
func (q *TaskQueue) SizeIfKnown(ctx context.Context) (int, error) {
	n, err := q.store.Len(ctx)
	if err != nil {
		q.metrics.SetQueueSize(-1)
		return 0, fmt.Errorf("%w: %v", ErrSizeIndeterminate, err)
	}
	q.metrics.SetQueueSize(n)
	return n, nil
}

// Ack removes stamped records from the queue.
func (q *TaskQueue) Ack(ctx context.Context, ids []int64) error {
	if err := q.store.Remove(ctx, ids); err != nil {
		return fmt.Errorf("ack records: %w", err)
	}
	return nil
}

// Recover queues every unstamped record the repository knows about.
func (q *TaskQueue) Recover(ctx context.Context) error {
	ids, err := q.repo.FindUnstamped(ctx, 0)
	if err != nil {
		q.needsRecover.Store(true)
		return fmt.Errorf("find unstamped records: %w", err)
	}
	for _, id := range ids {
		if err := q.store.Push(ctx, id); err != nil {
			q.needsRecover.Store(true)
			return fmt.Errorf("requeue record %d: %w", id, err)
		}
	}
	q.needsRecover.Store(false)
	if len(ids) > 0 {
		q.logger.InfoContext(ctx, "requeued unstamped records", "count", len(ids))
	}
	return nil
}

// DrainBatch loads up to one batch of queued records, oldest first. Records
// that are already stamped or gone are dropped from the queue, and pages
// holding nothing else are skipped.
func (q *TaskQueue) DrainBatch(ctx context.Context) ([]*models.MessageRecord, error) {
	records, _, err := q.nextBatch(ctx)
	return records, err
}

// nextBatch is DrainBatch that also reports whether the last page peeked was
// full, in which case more entries may be queued behind it.
func (q *TaskQueue) nextBatch(ctx context.Context) ([]*models.MessageRecord, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		records, full, dropped, err := q.loadPage(ctx)
		if err != nil {
			return nil, false, err
		}
		if len(records) > 0 || !full || !dropped {
			return records, full, nil
		}
	}
}

// loadPage peeks one page and drops its stale entries. dropped is false when
// stale entries could not be removed from the store.
func (q *TaskQueue) loadPage(ctx context.Context) (records []*models.MessageRecord, full, dropped bool, err error) {
	ids, err := q.store.Peek(ctx, q.maxBatch)
	if err != nil {
		return nil, false, false, fmt.Errorf("peek queue: %w", err)
	}

	records = make([]*models.MessageRecord, 0, len(ids))
	var stale []int64
	for _, id := range ids {
		rec, err := q.repo.Get(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, false, false, fmt.Errorf("load record %d: %w", id, err)
		}
		msg, ok := rec.(*models.MessageRecord)
		if !ok || msg.IsTimestamped() {
			stale = append(stale, id)
			continue
		}
		records = append(records, msg)
	}

	dropped = true
	if len(stale) > 0 {
		if err := q.store.Remove(ctx, stale); err != nil {
			q.logger.WarnContext(ctx, "failed to drop stale queue entries", "count", len(stale), "error", err)
			dropped = false
		}
	}
	return records, len(ids) == q.maxBatch, dropped, nil
}

// Drain stamps everything queued, one batch at a time. It stops at the first
// failure, leaving the remaining records queued for the next signal.
func (q *TaskQueue) Drain(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	if q.needsRecover.Load() {
		if err := q.Recover(ctx); err != nil {
			q.logger.WarnContext(ctx, "queue recovery failed", "error", err)
		}
	}

	for {
		records, more, err := q.nextBatch(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		result, err := q.stamper.RequestTimestamp(ctx, records)
		if err != nil {
			if postErr := q.poster.Post(ctx, StampFailed{At: models.Now(q.clock), Cause: err}); postErr != nil {
				q.logger.ErrorContext(ctx, "failed to report time-stamping failure", "error", postErr)
			}
			return err
		}
		if err := q.poster.Post(ctx, Stamped{Result: result}); err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Run drains on every signal until ctx is done.
func (q *TaskQueue) Run(ctx context.Context, signals <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			if err := q.Drain(ctx); err != nil && ctx.Err() == nil {
				q.logger.WarnContext(ctx, "time-stamping batch failed", "error", err)
			}
			_, _ = q.SizeIfKnown(ctx)
		}
	}
}
