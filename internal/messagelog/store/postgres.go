package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"msglog/internal/messagelog/models"
	"msglog/pkg/platform/sentinel"
	txcontext "msglog/pkg/platform/tx"
)

// Schema creates the log_records table. Message and timestamp records share
// one table and one ID sequence, told apart by discriminator.
//
//go:embed schema.sql
var Schema string

const (
	discriminatorMessage   = "m"
	discriminatorTimestamp = "t"
)

// PostgresRepository persists log records in PostgreSQL.
// This store is pure I/O; lifecycle rules live in the log manager.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record repository.
func NewPostgres(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies Schema. Safe to run repeatedly.
func (s *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply log record schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresRepository) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresRepository) SaveMessageRecord(ctx context.Context, rec *models.MessageRecord) error {
	if rec == nil {
		return fmt.Errorf("message record is required")
	}
	query := `
		INSERT INTO log_records (
			discriminator, time, query_id, message, signature, response,
			member_id, hash_chain_result, hash_chain, signature_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		discriminatorMessage,
		rec.Time.UnixMilli(),
		rec.QueryID,
		rec.Message,
		rec.SignatureXML,
		rec.IsResponse,
		string(rec.MemberID),
		nullString(rec.HashChainResult),
		nullString(rec.HashChain),
		rec.SignatureHash,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert message record: %w", err)
	}
	return nil
}

// SaveTimestampRecord links all records in a single UPDATE guarded by
// "timestamp_record_id IS NULL"; a short row count means another stamp won and
// the whole transaction is rolled back.
func (s *PostgresRepository) SaveTimestampRecord(ctx context.Context, ts *models.TimestampRecord, messageRecordIDs []int64, hashChains []string) error {
	if ts == nil {
		return fmt.Errorf("timestamp record is required")
	}
	if len(hashChains) > 0 && len(hashChains) != len(messageRecordIDs) {
		return fmt.Errorf("hash chains do not match message records: %d != %d", len(hashChains), len(messageRecordIDs))
	}
	chains := hashChains
	if len(chains) == 0 {
		chains = make([]string, len(messageRecordIDs))
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		var id int64
		err := s.execer(ctx).QueryRowContext(ctx, `
			INSERT INTO log_records (discriminator, time, timestamp, hash_chain_result)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, discriminatorTimestamp, ts.Time.UnixMilli(), ts.TimestampDER, nullString(ts.HashChainResult)).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert timestamp record: %w", err)
		}

		result, err := s.execer(ctx).ExecContext(ctx, `
			UPDATE log_records AS l
			SET timestamp_record_id = $1,
			    timestamp_hash_chain = NULLIF(c.chain, '')
			FROM unnest($2::bigint[], $3::text[]) AS c(id, chain)
			WHERE l.id = c.id
			  AND l.discriminator = 'm'
			  AND l.timestamp_record_id IS NULL
		`, id, pq.Array(messageRecordIDs), pq.Array(chains))
		if err != nil {
			return fmt.Errorf("link timestamp record: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("link timestamp rows affected: %w", err)
		}
		if rows != int64(len(messageRecordIDs)) {
			return fmt.Errorf("linked %d of %d message records: %w", rows, len(messageRecordIDs), sentinel.ErrConflict)
		}

		ts.ID = id
		return nil
	})
}

const selectMessage = `
	SELECT m.id, m.time, m.query_id, m.message, m.signature, m.response, m.member_id,
	       m.hash_chain_result, m.hash_chain, m.signature_hash, m.timestamp_hash_chain, m.archived,
	       t.id, t.time, t.timestamp, t.hash_chain_result, t.archived
	FROM log_records m
	LEFT JOIN log_records t ON t.id = m.timestamp_record_id
`

func (s *PostgresRepository) Get(ctx context.Context, id int64) (models.LogRecord, error) {
	var discriminator string
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT discriminator FROM log_records WHERE id = $1`, id).Scan(&discriminator)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("log record %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get log record: %w", err)
	}

	if discriminator == discriminatorTimestamp {
		ts, err := scanTimestamp(s.execer(ctx).QueryRowContext(ctx, `
			SELECT id, time, timestamp, hash_chain_result, archived
			FROM log_records WHERE id = $1
		`, id))
		if err != nil {
			return nil, fmt.Errorf("get timestamp record: %w", err)
		}
		return ts, nil
	}

	msg, err := scanMessage(s.execer(ctx).QueryRowContext(ctx, selectMessage+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get message record: %w", err)
	}
	return msg, nil
}

func (s *PostgresRepository) GetByQueryID(ctx context.Context, queryID string, start, end time.Time) (*models.MessageRecord, error) {
	msg, err := scanMessage(s.execer(ctx).QueryRowContext(ctx, selectMessage+`
		WHERE m.discriminator = 'm'
		  AND m.query_id = $1
		  AND m.time BETWEEN $2 AND $3
		ORDER BY m.id
		LIMIT 1
	`, queryID, start.UnixMilli(), end.UnixMilli()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message record with query id %q: %w", queryID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get message record by query id: %w", err)
	}
	return msg, nil
}

func (s *PostgresRepository) FindUnstamped(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id FROM log_records
		WHERE discriminator = 'm' AND timestamp_record_id IS NULL
		ORDER BY id
		LIMIT NULLIF($1::int, 0)
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unstamped records: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unstamped record: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unstamped records: %w", err)
	}
	return ids, nil
}

func (s *PostgresRepository) FindArchivable(ctx context.Context, limit int) ([]*models.MessageRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, selectMessage+`
		WHERE m.discriminator = 'm'
		  AND m.timestamp_record_id IS NOT NULL
		  AND NOT m.archived
		ORDER BY m.id
		LIMIT NULLIF($1::int, 0)
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archivable records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.MessageRecord, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archivable record: %w", err)
		}
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archivable records: %w", err)
	}
	return records, nil
}

func (s *PostgresRepository) MarkArchived(ctx context.Context, messageRecordIDs []int64) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		_, err := s.execer(ctx).ExecContext(ctx, `
			UPDATE log_records SET archived = TRUE
			WHERE id = ANY($1) AND discriminator = 'm' AND timestamp_record_id IS NOT NULL
		`, pq.Array(messageRecordIDs))
		if err != nil {
			return fmt.Errorf("mark message records archived: %w", err)
		}

		_, err = s.execer(ctx).ExecContext(ctx, `
			UPDATE log_records AS t SET archived = TRUE
			WHERE t.discriminator = 't'
			  AND NOT t.archived
			  AND t.id IN (SELECT timestamp_record_id FROM log_records WHERE id = ANY($1))
			  AND NOT EXISTS (
				SELECT 1 FROM log_records m
				WHERE m.timestamp_record_id = t.id AND NOT m.archived
			  )
		`, pq.Array(messageRecordIDs))
		if err != nil {
			return fmt.Errorf("mark timestamp records archived: %w", err)
		}
		return nil
	})
}

func (s *PostgresRepository) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var total int64
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		result, err := s.execer(ctx).ExecContext(ctx, `
			DELETE FROM log_records
			WHERE discriminator = 'm' AND archived AND time < $1
		`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete archived message records: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete archived message rows affected: %w", err)
		}
		total += n

		result, err = s.execer(ctx).ExecContext(ctx, `
			DELETE FROM log_records AS t
			WHERE t.discriminator = 't' AND t.archived AND t.time < $1
			  AND NOT EXISTS (SELECT 1 FROM log_records m WHERE m.timestamp_record_id = t.id)
		`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete archived timestamp records: %w", err)
		}
		n, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete archived timestamp rows affected: %w", err)
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.MessageRecord, error) {
	var (
		msg                                   models.MessageRecord
		timeMillis                            int64
		memberID                              string
		hashChainResult, hashChain, tsHashChn sql.NullString
		tsID, tsTime                          sql.NullInt64
		tsDER, tsHashChainResult              sql.NullString
		tsArchived                            sql.NullBool
	)
	err := row.Scan(
		&msg.ID, &timeMillis, &msg.QueryID, &msg.Message, &msg.SignatureXML, &msg.IsResponse, &memberID,
		&hashChainResult, &hashChain, &msg.SignatureHash, &tsHashChn, &msg.Archived,
		&tsID, &tsTime, &tsDER, &tsHashChainResult, &tsArchived,
	)
	if err != nil {
		return nil, err
	}
	msg.Time = time.UnixMilli(timeMillis).UTC()
	msg.MemberID = models.MemberID(memberID)
	msg.HashChainResult = hashChainResult.String
	msg.HashChain = hashChain.String
	msg.TimestampHashChain = tsHashChn.String
	if tsID.Valid {
		msg.Timestamp = &models.TimestampRecord{
			ID:              tsID.Int64,
			Time:            time.UnixMilli(tsTime.Int64).UTC(),
			TimestampDER:    tsDER.String,
			HashChainResult: tsHashChainResult.String,
			Archived:        tsArchived.Bool,
		}
	}
	return &msg, nil
}

func scanTimestamp(row rowScanner) (*models.TimestampRecord, error) {
	var (
		ts              models.TimestampRecord
		timeMillis      int64
		hashChainResult sql.NullString
	)
	if err := row.Scan(&ts.ID, &timeMillis, &ts.TimestampDER, &hashChainResult, &ts.Archived); err != nil {
		return nil, err
	}
	ts.Time = time.UnixMilli(timeMillis).UTC()
	ts.HashChainResult = hashChainResult.String
	return &ts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
