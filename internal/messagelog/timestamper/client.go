// Package timestamper obtains time-stamp tokens for message records from the
// configured time-stamping authorities.
package timestamper

import (
	"context"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"msglog/internal/messagelog/hashchain"
	"msglog/internal/messagelog/models"
	"msglog/internal/messagelog/ports"
	"msglog/pkg/platform/digest"
)

// DefaultTimeout bounds a single TSA round trip.
const DefaultTimeout = 30 * time.Second

// AttemptObserver is told about every TSA attempt. err is nil on success.
type AttemptObserver interface {
	ObserveAttempt(url string, err error, at time.Time, took time.Duration)
}

// Succeeded is a token obtained for one record or a batch.
type Succeeded struct {
	URL string
	// DER is the base64 encoded token.
	DER string
	// HashChainResult is the batch root, empty for a single record.
	HashChainResult string
	// HashChains is parallel to Records, nil for a single record.
	HashChains []string
	Records    []*models.MessageRecord
	Time       time.Time
}

// RecordIDs lists the IDs of the covered records.
func (s *Succeeded) RecordIDs() []int64 {
	ids := make([]int64, len(s.Records))
	for i, rec := range s.Records {
		ids[i] = rec.ID
	}
	return ids
}

// TimestampRecord builds the record to persist for this result.
func (s *Succeeded) TimestampRecord() *models.TimestampRecord {
	return &models.TimestampRecord{
		Time:            s.Time,
		TimestampDER:    s.DER,
		HashChainResult: s.HashChainResult,
	}
}

// Client walks the configured TSA URLs in order until one returns a token.
// It never retries a URL; retrying later is the caller's job.
type Client struct {
	provider  Provider
	conf      ports.GlobalConf
	observer  AttemptObserver
	timeout   time.Duration
	algorithm digest.Algorithm
	clock     func() time.Time
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithObserver reports every attempt, typically to the diagnostics tracker.
func WithObserver(o AttemptObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithAlgorithm sets the digest algorithm for batch roots.
func WithAlgorithm(alg digest.Algorithm) Option {
	return func(c *Client) {
		c.algorithm = alg
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client over provider using the TSA URLs from conf.
func NewClient(provider Provider, conf ports.GlobalConf, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		conf:      conf,
		timeout:   DefaultTimeout,
		algorithm: digest.Default,
		clock:     time.Now,
		tracer:    otel.Tracer("msglog/timestamper"),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TSAURLs lists the currently configured providers.
func (c *Client) TSAURLs() []string {
	return c.conf.TSAURLs()
}

// RequestTimestamp stamps records as one group. A single record is stamped by
// its signature hash; several records are bound by a hash chain whose root is
// stamped. Failures are returned as *models.TimestampProviderError.
func (c *Client) RequestTimestamp(ctx context.Context, records []*models.MessageRecord) (*Succeeded, error) {
	ctx, span := c.tracer.Start(ctx, "timestamper.RequestTimestamp",
		trace.WithAttributes(attribute.Int("batch_size", len(records))),
	)
	defer span.End()

	result, err := c.requestTimestamp(ctx, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "time-stamping failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("tsa_url", result.URL))
	return result, nil
}

func (c *Client) requestTimestamp(ctx context.Context, records []*models.MessageRecord) (*Succeeded, error) {
	if len(records) == 0 {
		return nil, &models.TimestampProviderError{Cause: fmt.Errorf("%w: nothing to stamp", ErrInternal)}
	}

	urls := c.conf.TSAURLs()
	if len(urls) == 0 {
		return nil, &models.TimestampProviderError{Cause: ErrNoTSAConfigured}
	}

	req, chains, root, err := c.buildRequest(records)
	if err != nil {
		return nil, &models.TimestampProviderError{Cause: err}
	}

	attempts := make(map[string]error, len(urls))
	var lastErr error
	for _, tsaURL := range urls {
		der, err := c.attempt(ctx, tsaURL, req)
		if err == nil {
			return &Succeeded{
				URL:             tsaURL,
				DER:             base64.StdEncoding.EncodeToString(der),
				HashChainResult: root,
				HashChains:      chains,
				Records:         records,
				Time:            models.Now(c.clock),
			}, nil
		}
		attempts[tsaURL] = err
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &models.TimestampProviderError{Cause: lastErr, Attempts: attempts}
}

func (c *Client) buildRequest(records []*models.MessageRecord) (Request, []string, string, error) {
	req := Request{ID: uuid.NewString(), Algorithm: c.algorithm}

	if len(records) == 1 {
		req.Digest = records[0].SignatureHash
		return req, nil, "", nil
	}

	leaves := make([]string, len(records))
	for i, rec := range records {
		leaves[i] = rec.SignatureHash
	}
	batch, err := hashchain.Build(c.algorithm, leaves)
	if err != nil {
		return Request{}, nil, "", fmt.Errorf("%w: build hash chain: %v", ErrInternal, err)
	}
	req.Digest = batch.Root
	return req, batch.Chains, batch.Root, nil
}

func (c *Client) attempt(ctx context.Context, tsaURL string, req Request) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "timestamper.attempt",
		trace.WithAttributes(attribute.String("tsa_url", tsaURL)),
	)
	defer span.End()

	started := c.clock()
	der, err := c.exchange(ctx, tsaURL, req)
	took := c.clock().Sub(started)

	if c.observer != nil {
		c.observer.ObserveAttempt(tsaURL, err, c.clock(), took)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
		c.logger.DebugContext(ctx, "time-stamping attempt failed",
			"tsa_url", tsaURL,
			"request_id", req.ID,
			"error", err,
		)
		return nil, err
	}
	return der, nil
}

func (c *Client) exchange(ctx context.Context, tsaURL string, req Request) ([]byte, error) {
	if err := validateURL(tsaURL); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	der, err := c.provider.Timestamp(attemptCtx, tsaURL, req)
	if err != nil {
		return nil, classify(ctx, attemptCtx, err)
	}
	if err := checkToken(der); err != nil {
		return nil, err
	}
	return der, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}
	return nil
}

// classify maps a provider error onto the typed causes.
func classify(parent, attemptCtx context.Context, err error) error {
	if isTyped(err) {
		return err
	}
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// checkToken makes sure the token is one DER encoded SEQUENCE. Cryptographic
// verification happens in the signer.
func checkToken(der []byte) error {
	if len(der) == 0 {
		return fmt.Errorf("%w: empty token", ErrMalformedResponse)
	}
	var raw asn1.RawValue
	rest, err := asn1.Unmarshal(der, &raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.Class != asn1.ClassUniversal || raw.Tag != asn1.TagSequence || !raw.IsCompound {
		return fmt.Errorf("%w: token is not a SEQUENCE", ErrMalformedResponse)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedResponse, len(rest))
	}
	return nil
}
