package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"msglog/internal/messagelog/archiver"
	"msglog/internal/messagelog/diagnostics"
	"msglog/internal/messagelog/models"
	httpmetrics "msglog/internal/platform/metrics"
	"msglog/pkg/platform/sentinel"
	bdd "msglog/pkg/testutil"
)

type stubLog struct {
	statuses map[string]diagnostics.Status
	since    time.Time
	failed   bool

	logged    []models.Message
	loggedSig []models.SignatureData
	sides     []models.Side
	logErr    error
	record    *models.MessageRecord

	stampedID int64
	stamp     *models.TimestampRecord
	stampErr  error

	findArgs []any
	findErr  error
}

func (s *stubLog) LogMessage(_ context.Context, msg models.Message, sig models.SignatureData, side models.Side) (*models.MessageRecord, error) {
	s.logged = append(s.logged, msg)
	s.loggedSig = append(s.loggedSig, sig)
	s.sides = append(s.sides, side)
	if s.logErr != nil {
		return nil, s.logErr
	}
	return s.record, nil
}

func (s *stubLog) Timestamp(_ context.Context, id int64) (*models.TimestampRecord, error) {
	s.stampedID = id
	return s.stamp, s.stampErr
}

func (s *stubLog) FindByQueryID(_ context.Context, queryID string, start, end time.Time) (*models.MessageRecord, error) {
	s.findArgs = []any{queryID, start, end}
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.record, nil
}

func (s *stubLog) Status() map[string]diagnostics.Status { return s.statuses }
func (s *stubLog) TimestampFailedSince() (time.Time, bool) {
	return s.since, s.failed
}

type stubVerifier struct {
	res *archiver.VerifyResult
	err error
}

func (v *stubVerifier) Verify() (*archiver.VerifyResult, error) { return v.res, v.err }

type HandlerSuite struct {
	suite.Suite
	status   *stubLog
	verifier *stubVerifier
	reg      *prometheus.Registry
	router   http.Handler
	at       time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.at = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s.status = &stubLog{statuses: map[string]diagnostics.Status{
		"https://tsa2": {ReturnCode: diagnostics.Success, Time: s.at, URL: "https://tsa2"},
		"https://tsa1": {ReturnCode: diagnostics.ErrorCodeTimeout, Time: s.at, URL: "https://tsa1"},
	}}
	s.verifier = &stubVerifier{res: &archiver.VerifyResult{Units: 2, Records: 7, FirstSequence: 1, LastSequence: 2}}
	s.reg = prometheus.NewRegistry()
	h := New(s.status, s.verifier, s.reg,
		WithMetrics(httpmetrics.New(s.reg)),
		WithHealthCheck("postgres", func(context.Context) error { return nil }),
		WithClock(func() time.Time { return s.at }),
	)
	s.router = h.Router()
}

func (s *HandlerSuite) get(path string) *httptest.ResponseRecorder {
	return bdd.Get(s.T(), s.router, path)
}

func (s *HandlerSuite) TestStatus() {
	s.Run("lists every TSA sorted by URL", func() {
		rr := s.get("/status")
		s.Require().Equal(http.StatusOK, rr.Code)

		body := bdd.DecodeJSON[struct {
			TimestampFailedSince *time.Time `json:"timestampFailedSince"`
			TSAs                 []struct {
				ReturnCode string `json:"returnCode"`
				URL        string `json:"url"`
			} `json:"tsas"`
		}](s.T(), rr)
		s.Nil(body.TimestampFailedSince)
		s.Require().Len(body.TSAs, 2)
		s.Equal("https://tsa1", body.TSAs[0].URL)
		s.Equal(diagnostics.ErrorCodeTimeout.String(), body.TSAs[0].ReturnCode)
		s.Equal("SUCCESS", body.TSAs[1].ReturnCode)
		s.NotEmpty(rr.Header().Get("X-Request-ID"))
	})

	s.Run("reports when time-stamping started failing", func() {
		s.status.failed = true
		s.status.since = s.at.Add(-time.Minute)
		defer func() { s.status.failed = false }()

		rr := s.get("/status")
		s.Contains(rr.Body.String(), `"timestampFailedSince":"2024-06-15T11:59:00Z"`)
	})
}

func (s *HandlerSuite) TestArchiveVerify() {
	s.Run("intact chain", func() {
		rr := s.get("/archive/verify")
		s.Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `"valid":true`)
		s.Contains(rr.Body.String(), `"records":7`)
	})

	s.Run("broken chain", func() {
		s.verifier.err = fmt.Errorf("%w: unit 3 does not chain to unit 2", archiver.ErrChainBroken)
		defer func() { s.verifier.err = nil }()

		rr := s.get("/archive/verify")
		s.Equal(http.StatusConflict, rr.Code)
		s.Contains(rr.Body.String(), `"valid":false`)
		s.Contains(rr.Body.String(), "unit 3")
	})

	s.Run("unreadable archive", func() {
		s.verifier.err = errors.New("permission denied")
		s.verifier.res = nil
		rr := s.get("/archive/verify")
		s.Equal(http.StatusInternalServerError, rr.Code)
		s.NotContains(rr.Body.String(), "permission denied")
	})
}

func (s *HandlerSuite) TestHealth() {
	s.Run("healthy", func() {
		rr := s.get("/healthz")
		s.Equal(http.StatusOK, rr.Code)
		s.JSONEq(`{"postgres":"ok"}`, rr.Body.String())
	})

	s.Run("failing dependency", func() {
		h := New(s.status, s.verifier, s.reg,
			WithHealthCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") }),
		)
		rr := bdd.Get(s.T(), h.Router(), "/healthz")
		s.Equal(http.StatusServiceUnavailable, rr.Code)
		s.Contains(rr.Body.String(), "refused")
	})
}

func (s *HandlerSuite) TestMetrics() {
	s.get("/status")
	rr := s.get("/metrics")
	s.Equal(http.StatusOK, rr.Code)
	s.True(strings.Contains(rr.Body.String(), "msglog_http_request_duration_seconds"))
}

func (s *HandlerSuite) post(path string, body any) *httptest.ResponseRecorder {
	return bdd.PostJSON(s.T(), s.router, path, body)
}

func (s *HandlerSuite) TestLogMessage() {
	request := map[string]any{
		"queryId":      "q-1",
		"isResponse":   true,
		"body":         "<soap/>",
		"redactedBody": "<soap-redacted/>",
		"client":       "EE/GOV/1/client",
		"serviceOwner": "EE/GOV/2/owner",
		"side":         "server",
		"signature":    map[string]any{"signatureXml": "<sig/>", "hashChainResult": "root", "hashChain": "chain"},
	}

	s.Run("logs the message and returns the record", func() {
		s.status.record = &models.MessageRecord{ID: 42, QueryID: "q-1", Time: s.at, MemberID: "EE/GOV/2/owner", SignatureHash: "h"}
		defer func() { s.status.record = nil; s.status.logged = nil; s.status.loggedSig = nil; s.status.sides = nil }()

		rr := s.post("/messages", request)
		s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

		body := bdd.DecodeJSON[struct {
			ID       int64  `json:"id"`
			QueryID  string `json:"queryId"`
			MemberID string `json:"memberId"`
		}](s.T(), rr)
		s.Equal(int64(42), body.ID)
		s.Equal("EE/GOV/2/owner", body.MemberID)

		s.Require().Len(s.status.logged, 1)
		s.Equal(models.Message{
			QueryID:      "q-1",
			IsResponse:   true,
			Body:         "<soap/>",
			RedactedBody: "<soap-redacted/>",
			Client:       "EE/GOV/1/client",
			ServiceOwner: "EE/GOV/2/owner",
		}, s.status.logged[0])
		s.Equal(models.SignatureData{SignatureXML: "<sig/>", HashChainResult: "root", HashChain: "chain"}, s.status.loggedSig[0])
		s.Equal(models.ServerSide, s.status.sides[0])
	})

	s.Run("refused by the failure-window policy", func() {
		s.status.logErr = &models.PolicyViolationError{Reason: "time-stamping failing for too long"}
		defer func() { s.status.logErr = nil }()

		rr := s.post("/messages", request)
		s.Equal(http.StatusServiceUnavailable, rr.Code)
		s.Contains(rr.Body.String(), "cannot time-stamp messages")
	})

	s.Run("storage failure hides the cause", func() {
		s.status.logErr = &models.StorageError{Op: "save message record", Err: errors.New("connection reset")}
		defer func() { s.status.logErr = nil }()

		rr := s.post("/messages", request)
		s.Equal(http.StatusInternalServerError, rr.Code)
		s.NotContains(rr.Body.String(), "connection reset")
	})

	s.Run("immediate time-stamping failure", func() {
		s.status.logErr = &models.TimestampProviderError{Cause: errors.New("timeout")}
		defer func() { s.status.logErr = nil }()

		rr := s.post("/messages", request)
		s.Equal(http.StatusBadGateway, rr.Code)
	})

	s.Run("rejects malformed requests", func() {
		s.status.logged = nil
		bad := map[string]any{"queryId": "q-1", "side": "middle"}
		s.Equal(http.StatusBadRequest, s.post("/messages", bad).Code)

		missingID := map[string]any{"side": "client"}
		s.Equal(http.StatusBadRequest, s.post("/messages", missingID).Code)

		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{")))
		s.Equal(http.StatusBadRequest, rr.Code)

		s.Empty(s.status.logged)
	})
}

func (s *HandlerSuite) TestTimestampRecord() {
	s.Run("returns the record's time-stamp", func() {
		s.status.stamp = &models.TimestampRecord{ID: 7, Time: s.at, TimestampDER: "MIIB"}
		defer func() { s.status.stamp = nil }()

		rr := s.post("/records/42/timestamp", nil)
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
		s.Equal(int64(42), s.status.stampedID)
		s.JSONEq(`{"id":7,"time":"2024-06-15T12:00:00Z","timestampDer":"MIIB"}`, rr.Body.String())
	})

	s.Run("unknown record", func() {
		s.status.stampErr = fmt.Errorf("load record 9: %w", sentinel.ErrNotFound)
		defer func() { s.status.stampErr = nil }()

		s.Equal(http.StatusNotFound, s.post("/records/9/timestamp", nil).Code)
	})

	s.Run("time-stamping refused", func() {
		s.status.stampErr = &models.TimestampProviderError{Cause: errors.New("no TSA answered")}
		defer func() { s.status.stampErr = nil }()

		s.Equal(http.StatusBadGateway, s.post("/records/9/timestamp", nil).Code)
	})

	s.Run("invalid id", func() {
		s.Equal(http.StatusBadRequest, s.post("/records/abc/timestamp", nil).Code)
		s.Equal(http.StatusBadRequest, s.post("/records/0/timestamp", nil).Code)
	})
}

func (s *HandlerSuite) TestFindRecord() {
	s.Run("passes the window through", func() {
		s.status.record = &models.MessageRecord{ID: 3, QueryID: "q-9", Time: s.at.Add(-time.Hour)}
		defer func() { s.status.record = nil }()

		rr := s.get("/records?queryId=q-9&start=2024-06-15T10:00:00Z&end=2024-06-15T11:30:00Z")
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
		s.Contains(rr.Body.String(), `"queryId":"q-9"`)
		s.Equal([]any{
			"q-9",
			time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
			time.Date(2024, 6, 15, 11, 30, 0, 0, time.UTC),
		}, s.status.findArgs)
	})

	s.Run("window defaults to everything up to now", func() {
		s.status.record = &models.MessageRecord{ID: 3, QueryID: "q-9"}
		defer func() { s.status.record = nil }()

		s.Require().Equal(http.StatusOK, s.get("/records?queryId=q-9").Code)
		s.Equal([]any{"q-9", time.Time{}, s.at}, s.status.findArgs)
	})

	s.Run("not found", func() {
		s.status.findErr = fmt.Errorf("find: %w", sentinel.ErrNotFound)
		defer func() { s.status.findErr = nil }()

		s.Equal(http.StatusNotFound, s.get("/records?queryId=missing").Code)
	})

	s.Run("invalid parameters", func() {
		s.Equal(http.StatusBadRequest, s.get("/records").Code)
		s.Equal(http.StatusBadRequest, s.get("/records?queryId=q&start=yesterday").Code)
		s.Equal(http.StatusBadRequest, s.get("/records?queryId=q&start=2024-06-15T12:00:00Z&end=2024-06-15T11:00:00Z").Code)
	})
}
