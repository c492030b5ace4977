//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"msglog/internal/messagelog/models"
	"msglog/pkg/platform/sentinel"
	"msglog/pkg/testutil/containers"
)

type PostgresRepositorySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	repo     *PostgresRepository
	ctx      context.Context
	base     time.Time
}

func TestPostgresRepositorySuite(t *testing.T) {
	suite.Run(t, new(PostgresRepositorySuite))
}

func (s *PostgresRepositorySuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.repo = NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
	s.Require().NoError(s.repo.Migrate(s.ctx))
	s.Require().NoError(s.repo.Migrate(s.ctx), "migration must be idempotent")
}

func (s *PostgresRepositorySuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(s.ctx, "log_records"))
	s.base = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresRepositorySuite) saveMessage(queryID string, at time.Time) *models.MessageRecord {
	rec := &models.MessageRecord{
		QueryID:       queryID,
		Message:       "<body/>",
		SignatureXML:  "<sig/>",
		MemberID:      "EE/GOV/1/sub",
		SignatureHash: "aGFzaA==",
		Time:          at,
	}
	s.Require().NoError(s.repo.SaveMessageRecord(s.ctx, rec))
	return rec
}

func (s *PostgresRepositorySuite) TestRoundTrip() {
	rec := s.saveMessage("q-1", s.base)
	s.NotZero(rec.ID)

	got, err := s.repo.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	msg := got.(*models.MessageRecord)
	s.Equal("q-1", msg.QueryID)
	s.Equal(models.MemberID("EE/GOV/1/sub"), msg.MemberID)
	s.True(s.base.Equal(msg.Time))
	s.Nil(msg.Timestamp)

	byQuery, err := s.repo.GetByQueryID(s.ctx, "q-1", s.base.Add(-time.Second), s.base.Add(time.Second))
	s.Require().NoError(err)
	s.Equal(rec.ID, byQuery.ID)

	_, err = s.repo.Get(s.ctx, rec.ID+1000)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRepositorySuite) TestBatchTimestampIsAtomic() {
	a := s.saveMessage("a", s.base)
	b := s.saveMessage("b", s.base)

	ts := &models.TimestampRecord{Time: s.base, TimestampDER: "ZGVy", HashChainResult: "root"}
	s.Require().NoError(s.repo.SaveTimestampRecord(s.ctx, ts, []int64{a.ID, b.ID}, []string{"ca", "cb"}))

	got, err := s.repo.Get(s.ctx, b.ID)
	s.Require().NoError(err)
	msg := got.(*models.MessageRecord)
	s.Require().NotNil(msg.Timestamp)
	s.Equal(ts.ID, msg.Timestamp.ID)
	s.Equal("cb", msg.TimestampHashChain)
	s.Equal("root", msg.Timestamp.HashChainResult)

	c := s.saveMessage("c", s.base)
	err = s.repo.SaveTimestampRecord(s.ctx, &models.TimestampRecord{Time: s.base, TimestampDER: "eA=="}, []int64{c.ID, a.ID}, nil)
	s.ErrorIs(err, sentinel.ErrConflict)

	got, err = s.repo.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Nil(got.(*models.MessageRecord).Timestamp)
}

func (s *PostgresRepositorySuite) TestConcurrentStampsLinkOnce() {
	rec := s.saveMessage("race", s.base)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.repo.SaveTimestampRecord(context.Background(), &models.TimestampRecord{Time: s.base, TimestampDER: "ZGVy"}, []int64{rec.ID}, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(1, succeeded)
}

func (s *PostgresRepositorySuite) TestArchiveAndClean() {
	old := s.saveMessage("old", s.base.Add(-31*24*time.Hour))
	recent := s.saveMessage("recent", s.base.Add(-29*24*time.Hour))
	unarchived := s.saveMessage("unarchived", s.base.Add(-40*24*time.Hour))

	s.Require().NoError(s.repo.SaveTimestampRecord(s.ctx, &models.TimestampRecord{Time: s.base.Add(-31 * 24 * time.Hour), TimestampDER: "ZGVy"}, []int64{old.ID}, nil))
	s.Require().NoError(s.repo.SaveTimestampRecord(s.ctx, &models.TimestampRecord{Time: s.base.Add(-29 * 24 * time.Hour), TimestampDER: "ZGVy"}, []int64{recent.ID}, nil))

	archivable, err := s.repo.FindArchivable(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(archivable, 2)

	s.Require().NoError(s.repo.MarkArchived(s.ctx, []int64{old.ID, recent.ID}))

	unstamped, err := s.repo.FindUnstamped(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal([]int64{unarchived.ID}, unstamped)

	deleted, err := s.repo.DeleteArchivedBefore(s.ctx, s.base.Add(-30*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(2, deleted, "old message and its timestamp")

	_, err = s.repo.Get(s.ctx, old.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.repo.Get(s.ctx, recent.ID)
	s.NoError(err)
	_, err = s.repo.Get(s.ctx, unarchived.ID)
	s.NoError(err)
}
