// Package ports declares the collaborators the message log core depends on.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"msglog/internal/messagelog/models"
)

// Repository persists message and timestamp records. Implementations return
// sentinel errors (ErrNotFound, ErrConflict, ErrUnavailable) for infrastructure facts.
type Repository interface {
	// SaveMessageRecord inserts rec and assigns its ID.
	SaveMessageRecord(ctx context.Context, rec *models.MessageRecord) error
	// SaveTimestampRecord inserts ts, assigns its ID and links every listed
	// message record to it in one unit of work. hashChains is either empty or
	// parallel to messageRecordIDs. Fails with ErrConflict, leaving nothing
	// linked, when any listed record already has a timestamp.
	SaveTimestampRecord(ctx context.Context, ts *models.TimestampRecord, messageRecordIDs []int64, hashChains []string) error
	// Get returns a *MessageRecord or *TimestampRecord by ID.
	Get(ctx context.Context, id int64) (models.LogRecord, error)
	// GetByQueryID returns the first message record with queryID logged within [start, end].
	GetByQueryID(ctx context.Context, queryID string, start, end time.Time) (*models.MessageRecord, error)
	// FindUnstamped lists IDs of message records without a timestamp, oldest first.
	FindUnstamped(ctx context.Context, limit int) ([]int64, error)
	// FindArchivable lists timestamped, not yet archived message records with
	// their timestamp loaded, ordered by ID.
	FindArchivable(ctx context.Context, limit int) ([]*models.MessageRecord, error)
	// MarkArchived flags the message records archived, together with every
	// timestamp record whose covered records are now all archived.
	MarkArchived(ctx context.Context, messageRecordIDs []int64) error
	// DeleteArchivedBefore removes archived records created before cutoff and
	// returns how many rows went away.
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// GlobalConf is the subset of the configuration service the core reads.
type GlobalConf interface {
	// TSAURLs lists the configured time-stamping authorities in preference order.
	TSAURLs() []string
	// TimestampingIntervalSeconds is the requested pause between batch runs.
	TimestampingIntervalSeconds() (int, error)
}
