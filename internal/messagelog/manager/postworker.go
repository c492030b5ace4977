package manager

import (
	"context"
	"fmt"

	"msglog/internal/messagelog/queue"
)

type envelope struct {
	ctx     context.Context
	outcome queue.Outcome
	reply   chan error
}

// Post hands a drain outcome to the post worker. Stamped outcomes wait until
// the stamp is persisted; failures are fire-and-forget.
func (m *Manager) Post(ctx context.Context, o queue.Outcome) error {
	env := envelope{ctx: ctx, outcome: o}
	if _, ok := o.(queue.Stamped); ok {
		env.reply = make(chan error, 1)
	}

	select {
	case m.mailbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	}

	if env.reply == nil {
		return nil
	}
	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPostWorker processes posted outcomes one at a time until ctx is done.
func (m *Manager) RunPostWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-m.mailbox:
			m.process(env)
		}
	}
}

// process handles one envelope and always answers it. A panic is reported to
// the waiting poster before it propagates to the supervisor.
func (m *Manager) process(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			if env.reply != nil {
				env.reply <- fmt.Errorf("processing %T panicked: %v", env.outcome, r)
			}
			panic(r)
		}
	}()

	err := m.handle(env.ctx, env.outcome)
	if err != nil {
		m.logger.ErrorContext(env.ctx, "processing time-stamping outcome failed",
			"outcome", fmt.Sprintf("%T", env.outcome),
			"error", err,
		)
	}
	if env.reply != nil {
		env.reply <- err
	}
}

func (m *Manager) handle(ctx context.Context, o queue.Outcome) error {
	switch v := o.(type) {
	case queue.Stamped:
		_, err := m.saveTimestamp(ctx, v.Result)
		return err
	case queue.StampFailed:
		if m.failure.recordFailureIfQueueNonEmpty(ctx, v.At, m.queue.SizeIfKnown) {
			m.logger.WarnContext(ctx, "time-stamping marked as failed", "since", v.At, "error", v.Cause)
		} else {
			m.logger.InfoContext(ctx, "ignoring time-stamping failure, queue is empty or already failing")
		}
		return nil
	default:
		return fmt.Errorf("unhandled outcome %T", o)
	}
}
