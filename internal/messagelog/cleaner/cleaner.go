// Package cleaner removes archived records, and optionally old archive
// units, once their retention has passed.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"msglog/internal/messagelog/metrics"
	"msglog/internal/messagelog/ports"
)

// DefaultKeepRecordsFor is how long archived records stay in the log.
const DefaultKeepRecordsFor = 30 * 24 * time.Hour

// ErrRetentionInvalid is returned for a non-positive record retention.
var ErrRetentionInvalid = errors.New("record retention must be positive")

// UnitPruner removes archive units sealed before a cutoff.
type UnitPruner interface {
	Prune(cutoff time.Time) (int, error)
}

// Result reports what one run removed.
type Result struct {
	Records int
	Units   int
}

// Cleaner deletes archived records older than the retention period.
// Records that were never archived are never deleted.
type Cleaner struct {
	repo           ports.Repository
	keepRecordsFor time.Duration
	pruner         UnitPruner
	keepUnitsFor   time.Duration
	clock          func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithKeepRecordsFor overrides DefaultKeepRecordsFor.
func WithKeepRecordsFor(d time.Duration) Option {
	return func(c *Cleaner) {
		c.keepRecordsFor = d
	}
}

// WithUnitRetention also prunes archive units sealed more than d ago.
// A zero d keeps units forever.
func WithUnitRetention(p UnitPruner, d time.Duration) Option {
	return func(c *Cleaner) {
		c.pruner = p
		c.keepUnitsFor = d
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Cleaner) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cleaner) {
		c.logger = logger
	}
}

// WithMetrics publishes deletion counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cleaner) {
		c.metrics = m
	}
}

// New creates a Cleaner.
func New(repo ports.Repository, opts ...Option) (*Cleaner, error) {
	c := &Cleaner{
		repo:           repo,
		keepRecordsFor: DefaultKeepRecordsFor,
		clock:          time.Now,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.keepRecordsFor <= 0 {
		return nil, ErrRetentionInvalid
	}
	return c, nil
}

// Run cleans on every signal until ctx is done.
func (c *Cleaner) Run(ctx context.Context, signals <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			res, err := c.CleanOnce(ctx)
			if err != nil {
				c.metrics.IncrementJobFailure("cleaner")
				c.logger.ErrorContext(ctx, "cleaning failed", "error", err)
				continue
			}
			if res.Records > 0 || res.Units > 0 {
				c.logger.InfoContext(ctx, "removed expired records",
					"records", res.Records,
					"units", res.Units,
				)
			}
		}
	}
}

// CleanOnce deletes archived records logged before now minus the record
// retention, then prunes expired archive units when configured.
func (c *Cleaner) CleanOnce(ctx context.Context) (Result, error) {
	now := c.clock()
	var res Result

	n, err := c.repo.DeleteArchivedBefore(ctx, now.Add(-c.keepRecordsFor))
	if err != nil {
		return res, fmt.Errorf("delete archived records: %w", err)
	}
	res.Records = n
	c.metrics.AddCleaned("records", n)

	if c.pruner == nil || c.keepUnitsFor <= 0 {
		return res, nil
	}
	units, err := c.pruner.Prune(now.Add(-c.keepUnitsFor))
	res.Units = units
	c.metrics.AddCleaned("units", units)
	if err != nil {
		return res, fmt.Errorf("prune archive units: %w", err)
	}
	return res, nil
}
