// Package manager logs exchanged messages, keeps them linked to time-stamps
// and enforces the failure-window policy that refuses logging once
// time-stamping has been broken for too long.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"msglog/internal/messagelog/diagnostics"
	"msglog/internal/messagelog/metrics"
	"msglog/internal/messagelog/models"
	"msglog/internal/messagelog/ports"
	"msglog/internal/messagelog/timestamper"
	"msglog/pkg/platform/digest"
	"msglog/pkg/platform/sentinel"
)

// Stamper obtains time-stamp tokens.
type Stamper interface {
	RequestTimestamp(ctx context.Context, records []*models.MessageRecord) (*timestamper.Succeeded, error)
}

// Queue is the pending-timestamp queue as seen by the manager.
type Queue interface {
	Enqueue(ctx context.Context, rec *models.MessageRecord) error
	SizeIfKnown(ctx context.Context) (int, error)
	Ack(ctx context.Context, ids []int64) error
}

// Config holds the logging policy.
type Config struct {
	// TimestampImmediately stamps each record synchronously inside LogMessage.
	TimestampImmediately bool
	// AcceptableFailurePeriod is how long logging continues while stamping
	// fails. Zero disables the check.
	AcceptableFailurePeriod time.Duration
	HashAlgorithm           digest.Algorithm
	// BodyLogging keeps full message bodies. Members in BodyLoggingOverrides
	// get the opposite behavior.
	BodyLogging          bool
	BodyLoggingOverrides []models.MemberID
}

// Manager is the message log orchestrator.
type Manager struct {
	repo      ports.Repository
	conf      ports.GlobalConf
	stamper   Stamper
	queue     Queue
	tracker   *diagnostics.Tracker
	failure   *failureState
	cfg       Config
	overrides map[models.MemberID]struct{}
	mailbox   chan envelope

	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics publishes log outcomes and the failure state.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// New creates a Manager. The post worker must be running (see RunPostWorker)
// for batch outcomes posted by the queue to be processed.
func New(repo ports.Repository, conf ports.GlobalConf, stamper Stamper, queue Queue, tracker *diagnostics.Tracker, cfg Config, opts ...Option) *Manager {
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = digest.Default
	}
	m := &Manager{
		repo:      repo,
		conf:      conf,
		stamper:   stamper,
		queue:     queue,
		tracker:   tracker,
		cfg:       cfg,
		overrides: make(map[models.MemberID]struct{}, len(cfg.BodyLoggingOverrides)),
		mailbox:   make(chan envelope),
		clock:     time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, member := range cfg.BodyLoggingOverrides {
		m.overrides[member] = struct{}{}
	}
	m.failure = &failureState{metrics: m.metrics}
	return m
}

// LogMessage persists msg as a MessageRecord. It fails with a policy
// violation while the failure window forbids logging. In immediate mode the
// record is stamped before returning.
func (m *Manager) LogMessage(ctx context.Context, msg models.Message, sig models.SignatureData, side models.Side) (*models.MessageRecord, error) {
	if err := m.verifyCanLogMessage(); err != nil {
		m.metrics.IncrementLogged(side.String(), "refused")
		m.logger.WarnContext(ctx, "refusing to log message", "query_id", msg.QueryID, "error", err)
		return nil, err
	}

	rec, err := m.buildRecord(msg, sig, side)
	if err != nil {
		m.metrics.IncrementLogged(side.String(), "error")
		return nil, err
	}

	if err := m.repo.SaveMessageRecord(ctx, rec); err != nil {
		m.failure.recordFailure(m.now())
		m.metrics.IncrementLogged(side.String(), "error")
		m.logger.ErrorContext(ctx, "failed to save message record", "query_id", msg.QueryID, "error", err)
		return nil, &models.StorageError{Op: "save message record", Err: err}
	}

	if m.cfg.TimestampImmediately {
		if _, err := m.timestampImmediately(ctx, rec); err != nil {
			m.metrics.IncrementLogged(side.String(), "error")
			return nil, err
		}
	} else if err := m.queue.Enqueue(ctx, rec); err != nil {
		m.logger.WarnContext(ctx, "failed to queue record, it will be recovered",
			"record_id", rec.ID,
			"error", err,
		)
	}

	m.metrics.IncrementLogged(side.String(), "ok")
	return rec, nil
}

// Timestamp returns the record's timestamp, stamping it on demand if it has none.
func (m *Manager) Timestamp(ctx context.Context, messageRecordID int64) (*models.TimestampRecord, error) {
	rec, err := m.loadMessage(ctx, messageRecordID)
	if err != nil {
		return nil, err
	}
	if rec.IsTimestamped() {
		return rec.Timestamp, nil
	}

	ts, err := m.timestampImmediately(ctx, rec)
	if errors.Is(err, sentinel.ErrConflict) {
		// A concurrent batch got there first.
		rec, err = m.loadMessage(ctx, messageRecordID)
		if err != nil {
			return nil, err
		}
		if rec.IsTimestamped() {
			return rec.Timestamp, nil
		}
		return nil, fmt.Errorf("record %d: %w", messageRecordID, sentinel.ErrInvalidState)
	}
	return ts, err
}

// FindByQueryID returns the message record with queryID logged in [start, end].
func (m *Manager) FindByQueryID(ctx context.Context, queryID string, start, end time.Time) (*models.MessageRecord, error) {
	rec, err := m.repo.GetByQueryID(ctx, queryID, start, end)
	if err != nil {
		return nil, fmt.Errorf("find by query id %q: %w", queryID, err)
	}
	return rec, nil
}

// Status returns a snapshot of per-TSA diagnostics.
func (m *Manager) Status() map[string]diagnostics.Status {
	return m.tracker.Snapshot()
}

// TimestampFailedSince reports when time-stamping started failing, if it is.
func (m *Manager) TimestampFailedSince() (time.Time, bool) {
	return m.failure.since()
}

func (m *Manager) verifyCanLogMessage() error {
	period := m.cfg.AcceptableFailurePeriod
	if period == 0 {
		return nil
	}
	if len(m.conf.TSAURLs()) == 0 {
		return &models.PolicyViolationError{Reason: "no time-stamping services configured"}
	}
	return m.failure.allowsLogging(m.now(), period)
}

func (m *Manager) buildRecord(msg models.Message, sig models.SignatureData, side models.Side) (*models.MessageRecord, error) {
	member := msg.Client
	if side == models.ServerSide {
		member = msg.ServiceOwner
	}

	hash, err := digest.SumBase64(m.cfg.HashAlgorithm, []byte(sig.SignatureXML))
	if err != nil {
		return nil, fmt.Errorf("hash signature: %w", err)
	}

	rec := &models.MessageRecord{
		QueryID:       msg.QueryID,
		Message:       m.loggableBody(msg, member),
		SignatureXML:  sig.SignatureXML,
		IsResponse:    msg.IsResponse,
		MemberID:      member,
		Time:          m.now(),
		SignatureHash: hash,
	}
	if sig.IsBatchSignature() {
		rec.HashChainResult = sig.HashChainResult
		rec.HashChain = sig.HashChain
	}
	return rec, nil
}

func (m *Manager) loggableBody(msg models.Message, member models.MemberID) string {
	enabled := m.cfg.BodyLogging
	if _, ok := m.overrides[member]; ok {
		enabled = !enabled
	}
	if enabled {
		return msg.Body
	}
	return msg.RedactedBody
}

func (m *Manager) loadMessage(ctx context.Context, id int64) (*models.MessageRecord, error) {
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load record %d: %w", id, err)
	}
	msg, ok := rec.(*models.MessageRecord)
	if !ok {
		return nil, fmt.Errorf("record %d is not a message record: %w", id, sentinel.ErrInvalidState)
	}
	return msg, nil
}

func (m *Manager) timestampImmediately(ctx context.Context, rec *models.MessageRecord) (*models.TimestampRecord, error) {
	result, err := m.stamper.RequestTimestamp(ctx, []*models.MessageRecord{rec})
	if err != nil {
		now := m.now()
		m.tracker.SetAll(m.conf.TSAURLs(), diagnostics.CodeFor(err), now)
		m.logger.WarnContext(ctx, "time-stamping failed", "record_id", rec.ID, "error", err)

		if qerr := m.queue.Enqueue(ctx, rec); qerr != nil {
			m.logger.WarnContext(ctx, "failed to queue record, it will be recovered", "record_id", rec.ID, "error", qerr)
		}
		m.failure.recordFailureIfQueueNonEmpty(ctx, now, m.queue.SizeIfKnown)
		return nil, err
	}

	ts, err := m.saveTimestamp(ctx, result)
	if err != nil {
		return nil, err
	}
	if err := rec.AttachTimestamp(ts, ""); err != nil {
		return nil, err
	}
	return ts, nil
}

// saveTimestamp persists a stamp for its records, acks them off the queue and
// clears the failure state, all in one critical section.
func (m *Manager) saveTimestamp(ctx context.Context, result *timestamper.Succeeded) (*models.TimestampRecord, error) {
	ts := result.TimestampRecord()
	ts.Time = m.now()
	ids := result.RecordIDs()

	err := m.failure.storeAndSucceed(ts.Time, func() error {
		if err := m.repo.SaveTimestampRecord(ctx, ts, ids, result.HashChains); err != nil {
			return err
		}
		if err := m.queue.Ack(ctx, ids); err != nil {
			m.logger.WarnContext(ctx, "failed to remove stamped records from queue", "count", len(ids), "error", err)
		}
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		m.logger.InfoContext(ctx, "records already time-stamped", "record_ids", ids)
		return nil, fmt.Errorf("save timestamp record: %w", err)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to save time-stamp record", "record_ids", ids, "error", err)
		return nil, &models.StorageError{Op: "save timestamp record", Err: err}
	}

	m.metrics.ObserveBatch(len(ids))
	m.logger.DebugContext(ctx, "saved time-stamp record",
		"timestamp_id", ts.ID,
		"tsa_url", result.URL,
		"batch_size", len(ids),
	)
	return ts, nil
}

func (m *Manager) now() time.Time {
	return models.Now(m.clock)
}
