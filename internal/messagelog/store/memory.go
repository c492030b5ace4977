package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"msglog/internal/messagelog/models"
	"msglog/pkg/platform/sentinel"
)

// InMemoryRepository keeps records in process memory. Used by tests and by
// single-node deployments without a database. Callers get copies, never the
// stored values.
type InMemoryRepository struct {
	mu         sync.RWMutex
	nextID     int64
	messages   map[int64]*models.MessageRecord
	timestamps map[int64]*models.TimestampRecord
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		messages:   make(map[int64]*models.MessageRecord),
		timestamps: make(map[int64]*models.TimestampRecord),
	}
}

func (s *InMemoryRepository) SaveMessageRecord(_ context.Context, rec *models.MessageRecord) error {
	if rec == nil {
		return fmt.Errorf("message record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	stored := copyMessage(rec)
	stored.Timestamp = nil
	stored.TimestampHashChain = ""
	s.messages[rec.ID] = stored
	return nil
}

func (s *InMemoryRepository) SaveTimestampRecord(_ context.Context, ts *models.TimestampRecord, messageRecordIDs []int64, hashChains []string) error {
	if ts == nil {
		return fmt.Errorf("timestamp record is required")
	}
	if len(hashChains) > 0 && len(hashChains) != len(messageRecordIDs) {
		return fmt.Errorf("hash chains do not match message records: %d != %d", len(hashChains), len(messageRecordIDs))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before linking anything so the batch stays atomic.
	for _, id := range messageRecordIDs {
		msg, ok := s.messages[id]
		if !ok {
			return fmt.Errorf("message record %d: %w", id, sentinel.ErrNotFound)
		}
		if msg.Timestamp != nil {
			return fmt.Errorf("message record %d already timestamped: %w", id, sentinel.ErrConflict)
		}
	}

	s.nextID++
	ts.ID = s.nextID
	stored := *ts
	s.timestamps[ts.ID] = &stored

	for i, id := range messageRecordIDs {
		chain := ""
		if len(hashChains) > 0 {
			chain = hashChains[i]
		}
		if err := s.messages[id].AttachTimestamp(&stored, chain); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryRepository) Get(_ context.Context, id int64) (models.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if msg, ok := s.messages[id]; ok {
		return copyMessage(msg), nil
	}
	if ts, ok := s.timestamps[id]; ok {
		cp := *ts
		return &cp, nil
	}
	return nil, fmt.Errorf("log record %d: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryRepository) GetByQueryID(_ context.Context, queryID string, start, end time.Time) (*models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.MessageRecord
	for _, msg := range s.messages {
		if msg.QueryID != queryID || msg.Time.Before(start) || msg.Time.After(end) {
			continue
		}
		if found == nil || msg.ID < found.ID {
			found = msg
		}
	}
	if found == nil {
		return nil, fmt.Errorf("message record with query id %q: %w", queryID, sentinel.ErrNotFound)
	}
	return copyMessage(found), nil
}

func (s *InMemoryRepository) FindUnstamped(_ context.Context, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	for id, msg := range s.messages {
		if msg.Timestamp == nil {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *InMemoryRepository) FindArchivable(_ context.Context, limit int) ([]*models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	for id, msg := range s.messages {
		if msg.Timestamp != nil && !msg.Archived {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]*models.MessageRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, copyMessage(s.messages[id]))
	}
	return records, nil
}

func (s *InMemoryRepository) MarkArchived(_ context.Context, messageRecordIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range messageRecordIDs {
		msg, ok := s.messages[id]
		if !ok {
			return fmt.Errorf("message record %d: %w", id, sentinel.ErrNotFound)
		}
		if msg.Timestamp == nil {
			return fmt.Errorf("message record %d is not timestamped: %w", id, sentinel.ErrInvalidState)
		}
	}

	touched := make(map[int64]struct{})
	for _, id := range messageRecordIDs {
		msg := s.messages[id]
		msg.Archived = true
		touched[msg.Timestamp.ID] = struct{}{}
	}
	for tsID := range touched {
		if s.allCoveredArchived(tsID) {
			s.timestamps[tsID].Archived = true
		}
	}
	return nil
}

func (s *InMemoryRepository) DeleteArchivedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, msg := range s.messages {
		if msg.Archived && msg.Time.Before(cutoff) {
			delete(s.messages, id)
			deleted++
		}
	}
	referenced := make(map[int64]struct{})
	for _, msg := range s.messages {
		if msg.Timestamp != nil {
			referenced[msg.Timestamp.ID] = struct{}{}
		}
	}
	for id, ts := range s.timestamps {
		if _, ok := referenced[id]; ok {
			continue
		}
		if ts.Archived && ts.Time.Before(cutoff) {
			delete(s.timestamps, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored message and timestamp records.
func (s *InMemoryRepository) Len() (messages, timestamps int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages), len(s.timestamps)
}

// caller holds s.mu
func (s *InMemoryRepository) allCoveredArchived(tsID int64) bool {
	for _, msg := range s.messages {
		if msg.Timestamp != nil && msg.Timestamp.ID == tsID && !msg.Archived {
			return false
		}
	}
	return true
}

func copyMessage(msg *models.MessageRecord) *models.MessageRecord {
	cp := *msg
	if msg.Timestamp != nil {
		ts := *msg.Timestamp
		cp.Timestamp = &ts
	}
	return &cp
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
