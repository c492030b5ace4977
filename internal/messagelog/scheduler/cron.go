package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"

	"msglog/internal/messagelog/models"
)

// Default schedules for the archiver and cleaner.
const (
	DefaultArchiveInterval = "0 */2 * * *"
	DefaultCleanInterval   = "0 */12 * * *"
)

// Schedule computes the next firing time. It is either a cron expression or
// a fixed interval written as "with <duration> interval".
type Schedule struct {
	asString string
	cronExpr *cronexpr.Expression
	interval time.Duration
}

// Parse reads a schedule.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "with ") {
		tokens := strings.SplitN(expr, " ", 3)
		if len(tokens) != 3 || tokens[2] != "interval" {
			return nil, fmt.Errorf("%w: expecting \"with <duration> interval\", got %q", models.ErrConfiguration, expr)
		}
		interval, err := time.ParseDuration(tokens[1])
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("%w: bad interval %q", models.ErrConfiguration, tokens[1])
		}
		return &Schedule{asString: expr, interval: interval}, nil
	}

	exp, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %v", models.ErrConfiguration, expr, err)
	}
	return &Schedule{asString: expr, cronExpr: exp}, nil
}

// ParseOrDefault parses expr and falls back to def, logging the problem.
func ParseOrDefault(expr, def string, logger *slog.Logger) *Schedule {
	s, err := Parse(expr)
	if err == nil {
		return s
	}
	if logger != nil {
		logger.Error("invalid schedule, using default", "schedule", expr, "default", def, "error", err)
	}
	s, err = Parse(def)
	if err != nil {
		panic(fmt.Sprintf("invalid default schedule %q: %v", def, err))
	}
	return s
}

// Next returns the first firing strictly after now. Zero means never.
func (s *Schedule) Next(now time.Time) time.Time {
	if s.cronExpr != nil {
		return s.cronExpr.Next(now)
	}
	return now.Add(s.interval)
}

func (s *Schedule) String() string {
	return s.asString
}

// CronTrigger signals a worker whenever its schedule fires.
type CronTrigger struct {
	name     string
	schedule *Schedule
	signals  chan<- struct{}
	clock    func() time.Time
	logger   *slog.Logger
}

// TriggerOption configures a CronTrigger.
type TriggerOption func(*CronTrigger)

// WithTriggerClock overrides time.Now.
func WithTriggerClock(clock func() time.Time) TriggerOption {
	return func(t *CronTrigger) {
		t.clock = clock
	}
}

// WithTriggerLogger sets the logger.
func WithTriggerLogger(logger *slog.Logger) TriggerOption {
	return func(t *CronTrigger) {
		t.logger = logger
	}
}

// NewCronTrigger creates a trigger named for logging.
func NewCronTrigger(name string, schedule *Schedule, signals chan<- struct{}, opts ...TriggerOption) *CronTrigger {
	t := &CronTrigger{
		name:     name,
		schedule: schedule,
		signals:  signals,
		clock:    time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run fires until ctx is done or the schedule has no further firings.
func (t *CronTrigger) Run(ctx context.Context) error {
	for {
		now := t.clock()
		next := t.schedule.Next(now)
		if next.IsZero() {
			t.logger.WarnContext(ctx, "schedule has no further firings", "job", t.name, "schedule", t.schedule.String())
			<-ctx.Done()
			return nil
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			t.logger.DebugContext(ctx, "schedule fired", "job", t.name)
			signal(t.signals)
		}
	}
}
