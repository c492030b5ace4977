package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"msglog/internal/messagelog/metrics"
	"msglog/internal/messagelog/models"
	"msglog/pkg/platform/sentinel"
)

// failureState owns the moment time-stamping started failing. Every
// transition runs under one mutex so a stale failure report can never
// overwrite a success that emptied the queue.
type failureState struct {
	mu       sync.Mutex
	failedAt time.Time
	metrics  *metrics.Metrics
}

// storeAndSucceed runs persist and clears the failure when it succeeds. A
// persist error marks time-stamping failed regardless of the queue, except
// for conflicts, which mean another stamp already covered the records.
func (f *failureState) storeAndSucceed(at time.Time, persist func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := persist(); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			f.markLocked(at)
		}
		return err
	}
	f.failedAt = time.Time{}
	f.metrics.SetFailing(false)
	return nil
}

// recordFailureIfQueueNonEmpty marks time-stamping failed unless it already
// is, or the queue is known to be empty. An indeterminate size counts as
// non-empty. Reports whether the state changed.
func (f *failureState) recordFailureIfQueueNonEmpty(ctx context.Context, at time.Time, size func(context.Context) (int, error)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.failedAt.IsZero() {
		return false
	}
	if n, err := size(ctx); err == nil && n == 0 {
		return false
	}
	f.markLocked(at)
	return true
}

// recordFailure marks time-stamping failed without looking at the queue.
func (f *failureState) recordFailure(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markLocked(at)
}

func (f *failureState) markLocked(at time.Time) {
	if f.failedAt.IsZero() {
		f.failedAt = at
		f.metrics.SetFailing(true)
	}
}

// since returns when the failure started, if it is set.
func (f *failureState) since() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedAt, !f.failedAt.IsZero()
}

// allowsLogging reports a policy violation once the failure is older than period.
func (f *failureState) allowsLogging(now time.Time, period time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failedAt.IsZero() {
		return nil
	}
	if now.Add(-period).After(f.failedAt) {
		return &models.PolicyViolationError{
			Reason: fmt.Sprintf("time-stamping failing since %s", f.failedAt.Format(time.RFC3339)),
		}
	}
	return nil
}
