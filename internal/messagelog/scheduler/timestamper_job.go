// Package scheduler turns time into signals for the periodic message log workers.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"msglog/internal/messagelog/ports"
)

const (
	// MinIntervalSeconds and MaxIntervalSeconds bound the timestamping interval.
	MinIntervalSeconds = 60
	MaxIntervalSeconds = 60 * 60 * 24

	// DefaultInitialDelay is the pause before the first timestamping signal.
	DefaultInitialDelay = time.Second
)

// TimestamperJob signals the task queue to start timestamping: once after an
// initial delay, then after every interval read from the global configuration.
type TimestamperJob struct {
	conf         ports.GlobalConf
	signals      chan<- struct{}
	initialDelay time.Duration
	logger       *slog.Logger
}

// JobOption configures a TimestamperJob.
type JobOption func(*TimestamperJob)

// WithInitialDelay sets the pause before the first signal.
func WithInitialDelay(d time.Duration) JobOption {
	return func(j *TimestamperJob) {
		if d >= 0 {
			j.initialDelay = d
		}
	}
}

// WithJobLogger sets the logger.
func WithJobLogger(logger *slog.Logger) JobOption {
	return func(j *TimestamperJob) {
		j.logger = logger
	}
}

// NewTimestamperJob creates a job sending on signals.
func NewTimestamperJob(conf ports.GlobalConf, signals chan<- struct{}, opts ...JobOption) *TimestamperJob {
	j := &TimestamperJob{
		conf:         conf,
		signals:      signals,
		initialDelay: DefaultInitialDelay,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run fires until ctx is done.
func (j *TimestamperJob) Run(ctx context.Context) error {
	delay := j.initialDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			signal(j.signals)
			delay = j.NextDelay()
		}
	}
}

// NextDelay reads the configured interval clamped to [MinIntervalSeconds,
// MaxIntervalSeconds]. A configuration error yields the minimum.
func (j *TimestamperJob) NextDelay() time.Duration {
	seconds := MinIntervalSeconds
	if v, err := j.conf.TimestampingIntervalSeconds(); err != nil {
		j.logger.Error("failed to get timestamping interval", "error", err)
	} else {
		seconds = v
	}
	return time.Duration(ClampInterval(seconds)) * time.Second
}

// ClampInterval bounds a timestamping interval in seconds.
func ClampInterval(seconds int) int {
	return min(max(seconds, MinIntervalSeconds), MaxIntervalSeconds)
}

// signal never blocks: a pending signal already covers this one.
func signal(signals chan<- struct{}) {
	select {
	case signals <- struct{}{}:
	default:
	}
}
