package timestamper_test

import (
	"context"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"msglog/internal/messagelog/diagnostics"
	"msglog/internal/messagelog/hashchain"
	"msglog/internal/messagelog/models"
	portmocks "msglog/internal/messagelog/ports/mocks"
	"msglog/internal/messagelog/timestamper"
	"msglog/internal/messagelog/timestamper/mocks"
	"msglog/pkg/platform/digest"
)

type ClientSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	conf     *portmocks.MockGlobalConf
	tracker  *diagnostics.Tracker
	client   *timestamper.Client
	token    []byte
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.conf = portmocks.NewMockGlobalConf(s.ctrl)
	s.tracker = diagnostics.NewTracker()
	s.client = timestamper.NewClient(s.provider, s.conf,
		timestamper.WithObserver(s.tracker),
		timestamper.WithTimeout(50*time.Millisecond),
		timestamper.WithAlgorithm(digest.SHA256),
	)

	token, err := asn1.Marshal(struct {
		Version int
		Policy  asn1.ObjectIdentifier
	}{1, asn1.ObjectIdentifier{1, 2, 3}})
	s.Require().NoError(err)
	s.token = token
}

func (s *ClientSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ClientSuite) record(id int64, signature string) *models.MessageRecord {
	hash, err := digest.SumBase64(digest.SHA256, []byte(signature))
	s.Require().NoError(err)
	return &models.MessageRecord{ID: id, SignatureXML: signature, SignatureHash: hash}
}

func blockUntilDone(ctx context.Context, _ string, _ timestamper.Request) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *ClientSuite) TestFallsBackToNextTSA() {
	s.conf.EXPECT().TSAURLs().Return([]string{"https://tsa1", "https://tsa2"})
	rec := s.record(1, "<sig/>")

	gomock.InOrder(
		s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa1", gomock.Any()).DoAndReturn(blockUntilDone),
		s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa2", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, req timestamper.Request) ([]byte, error) {
				s.Equal(rec.SignatureHash, req.Digest, "single record stamps its signature hash")
				s.NotEmpty(req.ID)
				return s.token, nil
			}),
	)

	result, err := s.client.RequestTimestamp(context.Background(), []*models.MessageRecord{rec})
	s.Require().NoError(err)
	s.Equal("https://tsa2", result.URL)
	s.Equal(base64.StdEncoding.EncodeToString(s.token), result.DER)
	s.Empty(result.HashChainResult)
	s.Nil(result.HashChains)
	s.Equal([]int64{1}, result.RecordIDs())

	tsa1, _ := s.tracker.Get("https://tsa1")
	tsa2, _ := s.tracker.Get("https://tsa2")
	s.Equal(diagnostics.ErrorCodeTimeout, tsa1.ReturnCode)
	s.Equal(diagnostics.Success, tsa2.ReturnCode)
}

func (s *ClientSuite) TestBatchStampsHashChainRoot() {
	s.conf.EXPECT().TSAURLs().Return([]string{"https://tsa1"})
	records := []*models.MessageRecord{s.record(1, "a"), s.record(2, "b"), s.record(3, "c")}

	var stamped string
	s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, req timestamper.Request) ([]byte, error) {
			stamped = req.Digest
			return s.token, nil
		})

	result, err := s.client.RequestTimestamp(context.Background(), records)
	s.Require().NoError(err)
	s.Equal(stamped, result.HashChainResult)
	s.Require().Len(result.HashChains, 3)
	for i, rec := range records {
		s.NoError(hashchain.Verify(result.HashChains[i], rec.SignatureHash, result.HashChainResult))
	}

	ts := result.TimestampRecord()
	s.Equal(result.DER, ts.TimestampDER)
	s.Equal(result.HashChainResult, ts.HashChainResult)
}

func (s *ClientSuite) TestAllProvidersFail() {
	s.conf.EXPECT().TSAURLs().Return([]string{"https://tsa1", "https://tsa2"})
	s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa1", gomock.Any()).Return([]byte("not der"), nil)
	s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa2", gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := s.client.RequestTimestamp(context.Background(), []*models.MessageRecord{s.record(1, "x")})

	var providerErr *models.TimestampProviderError
	s.Require().ErrorAs(err, &providerErr)
	s.Len(providerErr.Attempts, 2)
	s.ErrorIs(providerErr.Attempts["https://tsa1"], timestamper.ErrMalformedResponse)
	s.ErrorIs(err, timestamper.ErrNetwork, "cause is the last attempt")

	tsa1, _ := s.tracker.Get("https://tsa1")
	s.Equal(diagnostics.ErrorCodeMalformedResponse, tsa1.ReturnCode)
}

func (s *ClientSuite) TestNoProvidersConfigured() {
	s.conf.EXPECT().TSAURLs().Return(nil)

	_, err := s.client.RequestTimestamp(context.Background(), []*models.MessageRecord{s.record(1, "x")})
	s.ErrorIs(err, timestamper.ErrNoTSAConfigured)
}

func (s *ClientSuite) TestMalformedURLIsNotAttempted() {
	s.conf.EXPECT().TSAURLs().Return([]string{"ftp://tsa", "https://tsa2"})
	s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa2", gomock.Any()).Return(s.token, nil)

	result, err := s.client.RequestTimestamp(context.Background(), []*models.MessageRecord{s.record(1, "x")})
	s.Require().NoError(err)
	s.Equal("https://tsa2", result.URL)

	bad, _ := s.tracker.Get("ftp://tsa")
	s.Equal(diagnostics.ErrorCodeMalformedURL, bad.ReturnCode)
}

func (s *ClientSuite) TestCancelledCallerStopsIteration() {
	s.conf.EXPECT().TSAURLs().Return([]string{"https://tsa1", "https://tsa2"})
	ctx, cancel := context.WithCancel(context.Background())
	s.provider.EXPECT().Timestamp(gomock.Any(), "https://tsa1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ timestamper.Request) ([]byte, error) {
			cancel()
			return nil, ctx.Err()
		})

	_, err := s.client.RequestTimestamp(ctx, []*models.MessageRecord{s.record(1, "x")})
	var providerErr *models.TimestampProviderError
	s.Require().ErrorAs(err, &providerErr)
	s.Len(providerErr.Attempts, 1)
}

func (s *ClientSuite) TestEmptyBatch() {
	_, err := s.client.RequestTimestamp(context.Background(), nil)
	s.ErrorIs(err, timestamper.ErrInternal)
}

func TestDefaultTimeout(t *testing.T) {
	require.Equal(t, 30*time.Second, timestamper.DefaultTimeout)
	assert.NotNil(t, timestamper.NewClient(nil, nil))
}
