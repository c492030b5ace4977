package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"msglog/internal/messagelog/models"
	"msglog/internal/platform/middleware"
	"msglog/pkg/platform/sentinel"
)

type logMessageRequest struct {
	QueryID      string `json:"queryId"`
	IsResponse   bool   `json:"isResponse"`
	Body         string `json:"body"`
	RedactedBody string `json:"redactedBody"`
	Client       string `json:"client"`
	ServiceOwner string `json:"serviceOwner"`
	// Side is "client" or "server".
	Side      string `json:"side"`
	Signature struct {
		SignatureXML    string `json:"signatureXml"`
		HashChainResult string `json:"hashChainResult,omitempty"`
		HashChain       string `json:"hashChain,omitempty"`
	} `json:"signature"`
}

func (req *logMessageRequest) side() (models.Side, bool) {
	switch req.Side {
	case "client":
		return models.ClientSide, true
	case "server":
		return models.ServerSide, true
	}
	return 0, false
}

type timestampResponse struct {
	ID              int64     `json:"id"`
	Time            time.Time `json:"time"`
	TimestampDER    string    `json:"timestampDer"`
	HashChainResult string    `json:"hashChainResult,omitempty"`
}

func toTimestampResponse(ts *models.TimestampRecord) *timestampResponse {
	if ts == nil {
		return nil
	}
	return &timestampResponse{
		ID:              ts.ID,
		Time:            ts.Time,
		TimestampDER:    ts.TimestampDER,
		HashChainResult: ts.HashChainResult,
	}
}

type recordResponse struct {
	ID                 int64              `json:"id"`
	QueryID            string             `json:"queryId"`
	Time               time.Time          `json:"time"`
	IsResponse         bool               `json:"isResponse"`
	MemberID           string             `json:"memberId"`
	Message            string             `json:"message"`
	SignatureHash      string             `json:"signatureHash"`
	TimestampHashChain string             `json:"timestampHashChain,omitempty"`
	Timestamp          *timestampResponse `json:"timestamp,omitempty"`
	Archived           bool               `json:"archived"`
}

func toRecordResponse(rec *models.MessageRecord) recordResponse {
	return recordResponse{
		ID:                 rec.ID,
		QueryID:            rec.QueryID,
		Time:               rec.Time,
		IsResponse:         rec.IsResponse,
		MemberID:           string(rec.MemberID),
		Message:            rec.Message,
		SignatureHash:      rec.SignatureHash,
		TimestampHashChain: rec.TimestampHashChain,
		Timestamp:          toTimestampResponse(rec.Timestamp),
		Archived:           rec.Archived,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleLogMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req logMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid log message request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	side, ok := req.side()
	if !ok {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: `side must be "client" or "server"`})
		return
	}
	if req.QueryID == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "queryId is required"})
		return
	}

	msg := models.Message{
		QueryID:      req.QueryID,
		IsResponse:   req.IsResponse,
		Body:         req.Body,
		RedactedBody: req.RedactedBody,
		Client:       models.MemberID(req.Client),
		ServiceOwner: models.MemberID(req.ServiceOwner),
	}
	sig := models.SignatureData{
		SignatureXML:    req.Signature.SignatureXML,
		HashChainResult: req.Signature.HashChainResult,
		HashChain:       req.Signature.HashChain,
	}
	rec, err := h.log.LogMessage(ctx, msg, sig, side)
	if err != nil {
		h.writeError(w, r, "failed to log message", err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleTimestamp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid record id"})
		return
	}
	ts, err := h.log.Timestamp(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "failed to time-stamp record", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toTimestampResponse(ts))
}

// handleFindRecord looks a record up by query ID. start and end are RFC 3339;
// the window defaults to everything logged up to now.
func (h *Handler) handleFindRecord(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	queryID := q.Get("queryId")
	if queryID == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "queryId is required"})
		return
	}
	start, err := parseTimeParam(q.Get("start"), time.Time{})
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid start"})
		return
	}
	end, err := parseTimeParam(q.Get("end"), h.clock().UTC())
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid end"})
		return
	}
	if end.Before(start) {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "end is before start"})
		return
	}

	rec, err := h.log.FindByQueryID(r.Context(), queryID, start, end)
	if err != nil {
		h.writeError(w, r, "failed to find record", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toRecordResponse(rec))
}

func parseTimeParam(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// writeError maps message log errors to statuses. Only policy refusals echo
// the error text.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var provider *models.TimestampProviderError
	switch {
	case errors.Is(err, models.ErrCannotTimestamp):
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
		h.writeJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case models.IsStorageError(err):
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: msg})
	case errors.Is(err, sentinel.ErrNotFound):
		h.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "record not found"})
	case errors.Is(err, sentinel.ErrInvalidState):
		h.writeJSON(w, r, http.StatusConflict, errorResponse{Error: "record cannot be time-stamped"})
	case errors.As(err, &provider):
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
		h.writeJSON(w, r, http.StatusBadGateway, errorResponse{Error: "time-stamping service unavailable"})
	default:
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: msg})
	}
}
