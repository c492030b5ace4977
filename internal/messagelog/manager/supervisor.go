package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRestartDelay is the pause before a panicked worker is started again.
const DefaultRestartDelay = time.Second

type worker struct {
	name string
	run  func(ctx context.Context) error
}

// Supervisor owns the lifecycle of the message log workers. Cancelling the
// context passed to Run stops all of them. A worker that returns an error
// stops the rest; a worker that panics is logged and restarted.
type Supervisor struct {
	workers      []worker
	restartDelay time.Duration
	logger       *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithRestartDelay sets the pause before restarting a panicked worker.
func WithRestartDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.restartDelay = d
	}
}

// NewSupervisor creates a Supervisor with no workers.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		restartDelay: DefaultRestartDelay,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a worker. Must be called before Run.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.workers = append(s.workers, worker{name: name, run: run})
}

// Run starts every worker and blocks until all have stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		g.Go(func() error {
			return s.keepRunning(ctx, w)
		})
	}
	return g.Wait()
}

func (s *Supervisor) keepRunning(ctx context.Context, w worker) error {
	s.logger.InfoContext(ctx, "worker started", "worker", w.name)
	defer s.logger.InfoContext(ctx, "worker stopped", "worker", w.name)

	for {
		panicked, err := s.runOnce(ctx, w)
		if ctx.Err() != nil {
			return nil
		}
		if !panicked {
			if err != nil {
				return fmt.Errorf("worker %s: %w", w.name, err)
			}
			return nil
		}

		s.logger.ErrorContext(ctx, "worker panicked, restarting", "worker", w.name, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.restartDelay):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, w worker) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return false, w.run(ctx)
}
