package queue

import (
	"context"
	"time"

	"msglog/internal/messagelog/timestamper"
)

// Outcome is the result of a drain, reported to the log manager.
// It is one of Stamped or StampFailed.
type Outcome interface {
	isOutcome()
}

// Stamped carries a token obtained for the drained batch.
type Stamped struct {
	Result *timestamper.Succeeded
}

// StampFailed reports that no TSA stamped the drained batch.
type StampFailed struct {
	At    time.Time
	Cause error
}

func (Stamped) isOutcome()     {}
func (StampFailed) isOutcome() {}

// Poster receives drain outcomes. Post returns once a Stamped outcome has
// been persisted, so the next drain never sees the same records again.
type Poster interface {
	Post(ctx context.Context, o Outcome) error
}
