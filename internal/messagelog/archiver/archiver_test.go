package archiver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/suite"

	"msglog/internal/messagelog/models"
	"msglog/internal/messagelog/store"
	"msglog/pkg/platform/digest"
)

type ArchiverSuite struct {
	suite.Suite
	ctx  context.Context
	repo *store.InMemoryRepository
	dir  string
	tmp  string
	base time.Time
}

func TestArchiverSuite(t *testing.T) {
	suite.Run(t, new(ArchiverSuite))
}

func (s *ArchiverSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = store.NewInMemoryRepository()
	s.dir = filepath.Join(s.T().TempDir(), "archive")
	s.tmp = s.T().TempDir()
	s.base = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *ArchiverSuite) newArchiver(opts ...Option) *Archiver {
	opts = append([]Option{
		WithTempDir(s.tmp),
		WithUnitSize(2),
		WithClock(func() time.Time { return s.base }),
	}, opts...)
	return New(s.repo, s.dir, opts...)
}

// stamped logs n messages and stamps each one alone.
func (s *ArchiverSuite) stamped(n int) []int64 {
	ids := make([]int64, 0, n)
	for i := range n {
		at := s.base.Add(time.Duration(i) * time.Minute)
		rec := &models.MessageRecord{
			QueryID:       "q",
			Message:       "<body/>",
			SignatureXML:  "<sig/>",
			SignatureHash: "aGFzaA==",
			MemberID:      "EE/GOV/1/sub",
			Time:          at,
		}
		s.Require().NoError(s.repo.SaveMessageRecord(s.ctx, rec))
		ts := &models.TimestampRecord{Time: at, TimestampDER: "ZGVy"}
		s.Require().NoError(s.repo.SaveTimestampRecord(s.ctx, ts, []int64{rec.ID}, nil))
		ids = append(ids, rec.ID)
	}
	return ids
}

func (s *ArchiverSuite) archivable() int {
	recs, err := s.repo.FindArchivable(s.ctx, 0)
	s.Require().NoError(err)
	return len(recs)
}

func (s *ArchiverSuite) TestArchiveOnce() {
	s.Run("seals stamped records into chained units", func() {
		s.SetupTest()
		s.stamped(5)
		a := s.newArchiver()

		n, err := a.ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(5, n)
		s.Zero(s.archivable())

		res, err := VerifyChain(s.dir, digest.Default)
		s.Require().NoError(err)
		s.Equal(3, res.Units)
		s.Equal(5, res.Records)
		s.Equal(uint64(1), res.FirstSequence)
		s.Equal(uint64(3), res.LastSequence)

		files, err := listUnits(s.dir)
		s.Require().NoError(err)
		var prev string
		for _, f := range files {
			unit, err := ReadUnit(f.path)
			s.Require().NoError(err)
			s.Equal(prev, unit.Manifest.PreviousDigest)
			for _, e := range unit.Entries {
				s.Require().NotNil(e.Timestamp)
				s.Equal("ZGVy", e.Timestamp.TimestampDER)
			}
			prev = unit.Manifest.Digest
		}
	})

	s.Run("unstamped records stay in the log", func() {
		s.SetupTest()
		s.stamped(1)
		rec := &models.MessageRecord{QueryID: "pending", SignatureHash: "aA==", Time: s.base}
		s.Require().NoError(s.repo.SaveMessageRecord(s.ctx, rec))

		n, err := s.newArchiver().ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := s.repo.Get(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.False(got.(*models.MessageRecord).Archived)
	})

	s.Run("later runs continue the chain", func() {
		s.SetupTest()
		a := s.newArchiver()
		s.stamped(2)
		_, err := a.ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.stamped(3)
		_, err = a.ArchiveOnce(s.ctx)
		s.Require().NoError(err)

		res, err := a.Verify()
		s.Require().NoError(err)
		s.Equal(3, res.Units)
		s.Equal(5, res.Records)
	})

	s.Run("respects the per-run maximum", func() {
		s.SetupTest()
		s.stamped(5)
		n, err := s.newArchiver(WithMaxRecords(3)).ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(3, n)
		s.Equal(2, s.archivable())
	})

	s.Run("nothing to archive writes nothing", func() {
		s.SetupTest()
		n, err := s.newArchiver().ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.Zero(n)
		files, err := listUnits(s.dir)
		s.Require().NoError(err)
		s.Empty(files)
	})
}

func (s *ArchiverSuite) TestFailedWriteLeavesRecordsUnarchived() {
	s.stamped(3)
	a := s.newArchiver(WithTempDir(filepath.Join(s.tmp, "missing")))

	_, err := a.ArchiveOnce(s.ctx)
	s.Require().Error(err)
	s.Equal(3, s.archivable())

	files, err := listUnits(s.dir)
	s.Require().NoError(err)
	s.Empty(files)
}

type flakyRepo struct {
	*store.InMemoryRepository
	mu   sync.Mutex
	fail bool
}

func (r *flakyRepo) MarkArchived(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return r.InMemoryRepository.MarkArchived(ctx, ids)
}

func (s *ArchiverSuite) TestUnrecordedUnitIsAdopted() {
	s.stamped(2)
	repo := &flakyRepo{InMemoryRepository: s.repo, fail: true}
	a := New(repo, s.dir, WithTempDir(s.tmp), WithUnitSize(2))

	_, err := a.ArchiveOnce(s.ctx)
	s.Require().Error(err)
	s.Equal(2, s.archivable())
	state, err := loadState(s.dir)
	s.Require().NoError(err)
	s.Zero(state.Sequence)

	repo.fail = false
	n, err := a.ArchiveOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n, "records of the adopted unit are not sealed twice")
	s.Zero(s.archivable())

	res, err := VerifyChain(s.dir, "")
	s.Require().NoError(err)
	s.Equal(1, res.Units)
	s.Equal(2, res.Records)
}

type recordingNotifier struct {
	mu        sync.Mutex
	manifests []Manifest
	err       error
}

func (n *recordingNotifier) UnitSealed(_ context.Context, m Manifest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manifests = append(n.manifests, m)
	return n.err
}

func (s *ArchiverSuite) TestNotifier() {
	s.Run("receives every sealed unit in order", func() {
		s.SetupTest()
		s.stamped(3)
		n := &recordingNotifier{}
		_, err := s.newArchiver(WithNotifier(n)).ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(n.manifests, 2)
		s.Equal(uint64(1), n.manifests[0].Sequence)
		s.Equal(n.manifests[0].Digest, n.manifests[1].PreviousDigest)
	})

	s.Run("failures do not fail archiving", func() {
		s.SetupTest()
		s.stamped(1)
		n := &recordingNotifier{err: errors.New("broker down")}
		count, err := s.newArchiver(WithNotifier(n)).ArchiveOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, count)
	})
}

func (s *ArchiverSuite) TestRunArchivesOnSignal() {
	s.stamped(1)
	a := s.newArchiver()
	ctx, cancel := context.WithCancel(s.ctx)
	signals := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, signals) }()

	signals <- struct{}{}
	s.Eventually(func() bool { return s.archivable() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)
}

func (s *ArchiverSuite) TestVerifyChainDetectsTampering() {
	s.stamped(6)
	_, err := s.newArchiver().ArchiveOnce(s.ctx)
	s.Require().NoError(err)
	files, err := listUnits(s.dir)
	s.Require().NoError(err)
	s.Require().Len(files, 3)

	s.Run("every single-byte change of a unit's content", func() {
		for _, f := range files {
			original, err := os.ReadFile(f.path)
			s.Require().NoError(err)
			plain := decompress(s.T(), original)

			for i := range plain {
				tampered := bytes.Clone(plain)
				tampered[i] ^= 0x01
				s.Require().NoError(os.WriteFile(f.path, compress(s.T(), tampered), 0o600))

				_, err := VerifyChain(s.dir, "")
				s.Require().ErrorIsf(err, ErrCorruptUnit, "byte %d of %s", i, filepath.Base(f.path))
			}
			s.Require().NoError(os.WriteFile(f.path, original, 0o600))
		}
		_, err := VerifyChain(s.dir, "")
		s.NoError(err)
	})

	s.Run("a corrupted compressed stream", func() {
		original, err := os.ReadFile(files[1].path)
		s.Require().NoError(err)
		damaged := bytes.Clone(original)
		damaged[len(damaged)/2] ^= 0xff
		s.Require().NoError(os.WriteFile(files[1].path, damaged, 0o600))
		defer func() { s.Require().NoError(os.WriteFile(files[1].path, original, 0o600)) }()

		_, err = VerifyChain(s.dir, "")
		s.ErrorIs(err, ErrCorruptUnit)
	})

	s.Run("a removed unit in the middle", func() {
		original, err := os.ReadFile(files[1].path)
		s.Require().NoError(err)
		s.Require().NoError(os.Remove(files[1].path))
		defer func() { s.Require().NoError(os.WriteFile(files[1].path, original, 0o600)) }()

		_, err = VerifyChain(s.dir, "")
		s.ErrorIs(err, ErrChainBroken)
	})

	s.Run("units removed from the start without a prune", func() {
		var originals [][]byte
		for _, f := range files[:2] {
			original, err := os.ReadFile(f.path)
			s.Require().NoError(err)
			originals = append(originals, original)
			s.Require().NoError(os.Remove(f.path))
		}
		defer func() {
			for i, f := range files[:2] {
				s.Require().NoError(os.WriteFile(f.path, originals[i], 0o600))
			}
		}()

		_, err := VerifyChain(s.dir, "")
		s.ErrorIs(err, ErrChainBroken)
	})

	s.Run("a unit sealed with another algorithm", func() {
		_, err := VerifyChain(s.dir, digest.SHA256)
		s.ErrorIs(err, ErrChainBroken)
	})
}

func decompress(t *testing.T, data []byte) []byte {
	t.Helper()
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (s *ArchiverSuite) TestPrune() {
	now := s.base
	a := New(s.repo, s.dir, WithTempDir(s.tmp), WithUnitSize(1),
		WithClock(func() time.Time { return now }))
	for day := range 3 {
		now = s.base.AddDate(0, 0, day)
		s.stamped(1)
		_, err := a.ArchiveOnce(s.ctx)
		s.Require().NoError(err)
	}

	s.Run("removes old units from the start of the chain", func() {
		removed, err := a.Prune(s.base.AddDate(0, 0, 1).Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(2, removed)

		res, err := a.Verify()
		s.Require().NoError(err)
		s.Equal(1, res.Units)
		s.Equal(uint64(3), res.FirstSequence)
	})

	s.Run("keeps the newest unit", func() {
		removed, err := a.Prune(s.base.AddDate(1, 0, 0))
		s.Require().NoError(err)
		s.Zero(removed)

		_, err = a.Verify()
		s.NoError(err)
	})
}

func (s *ArchiverSuite) TestPrunedChainHead() {
	now := s.base
	a := New(s.repo, s.dir, WithTempDir(s.tmp), WithUnitSize(1),
		WithClock(func() time.Time { return now }))
	for day := range 4 {
		now = s.base.AddDate(0, 0, day)
		s.stamped(1)
		_, err := a.ArchiveOnce(s.ctx)
		s.Require().NoError(err)
	}
	removed, err := a.Prune(s.base.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Equal(1, removed)

	files, err := listUnits(s.dir)
	s.Require().NoError(err)
	s.Require().Len(files, 3)
	s.Require().Equal(uint64(2), files[0].sequence)

	s.Run("the recorded head verifies", func() {
		res, err := a.Verify()
		s.Require().NoError(err)
		s.Equal(uint64(2), res.FirstSequence)
		s.Equal(3, res.Units)
	})

	s.Run("losing the head after a prune is detected", func() {
		original, err := os.ReadFile(files[0].path)
		s.Require().NoError(err)
		s.Require().NoError(os.Remove(files[0].path))
		defer func() { s.Require().NoError(os.WriteFile(files[0].path, original, 0o600)) }()

		_, err = a.Verify()
		s.ErrorIs(err, ErrChainBroken)
	})

	s.Run("interrupted prune still verifies", func() {
		st, err := loadState(s.dir)
		s.Require().NoError(err)
		m, err := readManifest(files[1].path)
		s.Require().NoError(err)
		advanced := st
		advanced.FirstSequence = m.Sequence
		advanced.FirstPreviousDigest = m.PreviousDigest
		s.Require().NoError(saveState(s.dir, advanced))
		defer func() { s.Require().NoError(saveState(s.dir, st)) }()

		res, err := a.Verify()
		s.Require().NoError(err)
		s.Equal(uint64(2), res.FirstSequence)
	})

	s.Run("later sealing keeps the head", func() {
		now = s.base.AddDate(0, 0, 5)
		s.stamped(1)
		_, err := a.ArchiveOnce(s.ctx)
		s.Require().NoError(err)

		st, err := loadState(s.dir)
		s.Require().NoError(err)
		s.Equal(uint64(2), st.FirstSequence)
		s.Equal(uint64(5), st.Sequence)
	})
}
