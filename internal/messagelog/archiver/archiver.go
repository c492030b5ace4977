// Package archiver seals time-stamped message records into hash-chained,
// compressed archive units and marks them archived.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"msglog/internal/messagelog/metrics"
	"msglog/internal/messagelog/models"
	"msglog/internal/messagelog/ports"
	"msglog/pkg/platform/atomicfile"
	"msglog/pkg/platform/digest"
)

const (
	// DefaultMaxRecords caps the records sealed in one run.
	DefaultMaxRecords = 10000
	// DefaultTransactionSize is how many records are marked archived per call.
	DefaultTransactionSize = 10000
	// DefaultUnitSize caps the records in one unit.
	DefaultUnitSize = 1000

	tempPrefix = ".mlog-"
)

// Notifier is told about every sealed unit.
type Notifier interface {
	UnitSealed(ctx context.Context, m Manifest) error
}

// Archiver moves time-stamped records into archive units.
type Archiver struct {
	repo            ports.Repository
	dir             string
	tempDir         string
	algorithm       digest.Algorithm
	maxRecords      int
	unitSize        int
	transactionSize int
	notifier        Notifier

	mu      sync.Mutex
	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithTempDir spools unit bodies in dir instead of os.TempDir.
func WithTempDir(dir string) Option {
	return func(a *Archiver) {
		a.tempDir = dir
	}
}

// WithAlgorithm sets the digest algorithm of new units.
func WithAlgorithm(alg digest.Algorithm) Option {
	return func(a *Archiver) {
		a.algorithm = alg
	}
}

// WithMaxRecords caps records per run.
func WithMaxRecords(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.maxRecords = n
		}
	}
}

// WithUnitSize caps records per unit.
func WithUnitSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.unitSize = n
		}
	}
}

// WithTransactionSize sets how many records are marked archived at once.
func WithTransactionSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.transactionSize = n
		}
	}
}

// WithNotifier publishes sealed units.
func WithNotifier(n Notifier) Option {
	return func(a *Archiver) {
		a.notifier = n
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(a *Archiver) {
		a.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// WithMetrics publishes archive counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Archiver) {
		a.metrics = m
	}
}

// New creates an Archiver writing units into dir.
func New(repo ports.Repository, dir string, opts ...Option) *Archiver {
	a := &Archiver{
		repo:            repo,
		dir:             dir,
		algorithm:       digest.Default,
		maxRecords:      DefaultMaxRecords,
		unitSize:        DefaultUnitSize,
		transactionSize: DefaultTransactionSize,
		clock:           time.Now,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run archives on every signal until ctx is done. Failures are logged and
// retried on the next signal.
func (a *Archiver) Run(ctx context.Context, signals <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			n, err := a.ArchiveOnce(ctx)
			if err != nil {
				a.metrics.IncrementJobFailure("archiver")
				a.logger.ErrorContext(ctx, "archiving failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived records", "count", n)
			}
		}
	}
}

// ArchiveOnce seals up to the configured maximum of archivable records and
// returns how many were archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	state, err := a.reconcile(ctx)
	if err != nil {
		return 0, err
	}

	records, err := a.repo.FindArchivable(ctx, a.maxRecords)
	if err != nil {
		return 0, fmt.Errorf("find archivable records: %w", err)
	}

	archived := 0
	for start := 0; start < len(records); start += a.unitSize {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		end := min(start+a.unitSize, len(records))
		batch := records[start:end]

		m, err := a.seal(state, batch)
		if err != nil {
			return archived, err
		}
		if err := a.markArchived(ctx, entryIDs(batch)); err != nil {
			return archived, err
		}
		state = state.advance(m)
		if err := saveState(a.dir, state); err != nil {
			return archived, err
		}

		archived += len(batch)
		a.metrics.AddArchived(len(batch))
		a.notify(ctx, m)
	}
	return archived, nil
}

// seal writes one unit following state and returns its manifest.
func (a *Archiver) seal(state chainState, batch []*models.MessageRecord) (Manifest, error) {
	spool, err := os.CreateTemp(a.tempDir, "mlog-body-*")
	if err != nil {
		return Manifest{}, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	m := Manifest{
		Format:          FormatVersion,
		Sequence:        state.Sequence + 1,
		UnitID:          uuid.NewString(),
		SealedAt:        models.Now(a.clock),
		RecordCount:     len(batch),
		DigestAlgorithm: a.algorithm,
		PreviousDigest:  state.Digest,
	}

	enc := json.NewEncoder(spool)
	for i, rec := range batch {
		t := rec.Time.UTC()
		if i == 0 || t.Before(m.FirstTime) {
			m.FirstTime = t
		}
		if t.After(m.LastTime) {
			m.LastTime = t
		}
		if err := enc.Encode(entryFor(rec)); err != nil {
			return Manifest{}, fmt.Errorf("encode entry %d: %w", rec.ID, err)
		}
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Manifest{}, fmt.Errorf("rewind spool: %w", err)
	}
	m.Digest, err = computeDigest(m, spool)
	if err != nil {
		return Manifest{}, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Manifest{}, fmt.Errorf("rewind spool: %w", err)
	}

	target := filepath.Join(a.dir, UnitFileName(m.Sequence, m.UnitID))
	err = atomicfile.Write(target, tempPrefix, func(w io.Writer) error {
		return writeUnit(w, m, spool)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("seal unit %d: %w", m.Sequence, err)
	}
	return m, nil
}

func (a *Archiver) markArchived(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += a.transactionSize {
		end := min(start+a.transactionSize, len(ids))
		if err := a.repo.MarkArchived(ctx, ids[start:end]); err != nil {
			return fmt.Errorf("mark records archived: %w", err)
		}
	}
	return nil
}

// reconcile adopts units sealed after the last saved state, which happens
// when a run stops between sealing a unit and recording it. Their records
// are marked archived again, which is idempotent.
func (a *Archiver) reconcile(ctx context.Context) (chainState, error) {
	state, err := loadState(a.dir)
	if err != nil {
		return chainState{}, err
	}
	files, err := listUnits(a.dir)
	if err != nil {
		return chainState{}, err
	}

	for _, f := range files {
		if f.sequence <= state.Sequence {
			continue
		}
		unit, err := ReadUnit(f.path)
		if err != nil {
			return chainState{}, err
		}
		m := unit.Manifest
		if m.Sequence != state.Sequence+1 || m.PreviousDigest != state.Digest {
			return chainState{}, fmt.Errorf("%w: unsaved unit %d does not follow unit %d", ErrChainBroken, m.Sequence, state.Sequence)
		}

		ids := make([]int64, len(unit.Entries))
		for i, e := range unit.Entries {
			ids[i] = e.ID
		}
		if err := a.markArchived(ctx, ids); err != nil {
			return chainState{}, err
		}
		state = state.advance(m)
		if err := saveState(a.dir, state); err != nil {
			return chainState{}, err
		}
		a.logger.WarnContext(ctx, "adopted unrecorded archive unit", "sequence", m.Sequence, "unit_id", m.UnitID)
	}
	return state, nil
}

func (a *Archiver) notify(ctx context.Context, m Manifest) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.UnitSealed(ctx, m); err != nil {
		a.logger.WarnContext(ctx, "failed to publish sealed unit",
			"sequence", m.Sequence,
			"unit_id", m.UnitID,
			"error", err,
		)
	}
}

// Verify checks the chain of this archiver's directory.
func (a *Archiver) Verify() (*VerifyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return VerifyChain(a.dir, "")
}

// Dir is the archive directory.
func (a *Archiver) Dir() string {
	return a.dir
}

func entryIDs(records []*models.MessageRecord) []int64 {
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}

// IsCorruption reports whether err means archive content is damaged.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruptUnit) || errors.Is(err, ErrChainBroken)
}
