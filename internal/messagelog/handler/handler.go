// Package handler exposes the message log and its diagnostics over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"msglog/internal/messagelog/archiver"
	"msglog/internal/messagelog/diagnostics"
	"msglog/internal/messagelog/models"
	httpmetrics "msglog/internal/platform/metrics"
	"msglog/internal/platform/middleware"
)

// MessageLog is the message log as seen by HTTP callers.
type MessageLog interface {
	LogMessage(ctx context.Context, msg models.Message, sig models.SignatureData, side models.Side) (*models.MessageRecord, error)
	Timestamp(ctx context.Context, messageRecordID int64) (*models.TimestampRecord, error)
	FindByQueryID(ctx context.Context, queryID string, start, end time.Time) (*models.MessageRecord, error)
	Status() map[string]diagnostics.Status
	TimestampFailedSince() (time.Time, bool)
}

// ChainVerifier walks the archive chain.
type ChainVerifier interface {
	Verify() (*archiver.VerifyResult, error)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves the message log API.
type Handler struct {
	log      MessageLog
	verifier ChainVerifier
	checks   map[string]HealthCheck
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	metrics  *httpmetrics.Metrics
	clock    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithHealthCheck adds a dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records request latencies.
func WithMetrics(m *httpmetrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// New creates a Handler. gatherer backs /metrics.
func New(log MessageLog, verifier ChainVerifier, gatherer prometheus.Gatherer, opts ...Option) *Handler {
	h := &Handler{
		log:      log,
		verifier: verifier,
		checks:   make(map[string]HealthCheck),
		gatherer: gatherer,
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithClock sets the clock used for default lookup windows.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// Router returns the chi router with every route.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger, h.metrics))

	r.Post("/messages", h.handleLogMessage)
	r.Get("/records", h.handleFindRecord)
	r.Post("/records/{id}/timestamp", h.handleTimestamp)
	r.Get("/status", h.handleStatus)
	r.Get("/archive/verify", h.handleVerify)
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

type statusResponse struct {
	TimestampFailedSince *time.Time           `json:"timestampFailedSince,omitempty"`
	TSAs                 []diagnostics.Status `json:"tsas"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := h.log.Status()
	resp := statusResponse{TSAs: make([]diagnostics.Status, 0, len(snapshot))}
	for _, st := range snapshot {
		resp.TSAs = append(resp.TSAs, st)
	}
	sort.Slice(resp.TSAs, func(i, j int) bool { return resp.TSAs[i].URL < resp.TSAs[j].URL })
	if since, failed := h.log.TimestampFailedSince(); failed {
		resp.TimestampFailedSince = &since
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

type verifyResponse struct {
	Valid bool `json:"valid"`
	*archiver.VerifyResult
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := h.verifier.Verify()
	if err == nil {
		h.writeJSON(w, r, http.StatusOK, verifyResponse{Valid: true, VerifyResult: res})
		return
	}
	if archiver.IsCorruption(err) {
		h.logger.WarnContext(r.Context(), "archive chain verification failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		h.writeJSON(w, r, http.StatusConflict, verifyResponse{VerifyResult: res, Error: err.Error()})
		return
	}
	h.logger.ErrorContext(r.Context(), "archive chain could not be read",
		"error", err,
		"request_id", middleware.GetRequestID(r.Context()),
	)
	h.writeJSON(w, r, http.StatusInternalServerError, verifyResponse{Error: "archive unavailable"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	h.writeJSON(w, r, status, results)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write response",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
}
