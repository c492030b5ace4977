package models

import (
	"fmt"
	"time"

	"msglog/pkg/platform/sentinel"
)

// Side tells on which end of an exchange a message was logged.
type Side int

const (
	// ClientSide is the security server of the service client.
	ClientSide Side = iota
	// ServerSide is the security server of the service provider.
	ServerSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client"
	}
	return "server"
}

// MemberID identifies a client subsystem or service owner, e.g. "EE/GOV/70000001/sub".
type MemberID string

// Message is the already-parsed exchange message handed over for logging.
// Parsing and signature verification happen upstream.
type Message struct {
	QueryID    string
	IsResponse bool
	// Body is the full message text as received.
	Body string
	// RedactedBody is Body with the payload stripped, used when body logging
	// is disabled for the member.
	RedactedBody string
	Client       MemberID
	ServiceOwner MemberID
}

// SignatureData is produced by the signer for a message.
type SignatureData struct {
	SignatureXML string
	// HashChainResult and HashChain are set when one signature covers several
	// messages.
	HashChainResult string
	HashChain       string
}

// IsBatchSignature reports whether the signature covers more than one message.
func (s SignatureData) IsBatchSignature() bool {
	return s.HashChainResult != ""
}

// LogRecord is anything the repository can return by ID.
type LogRecord interface {
	RecordID() int64
	RecordTime() time.Time
}

// MessageRecord is one logged message. Immutable once its timestamp is
// attached, except for that single link.
type MessageRecord struct {
	ID              int64
	QueryID         string
	Message         string
	SignatureXML    string
	IsResponse      bool
	MemberID        MemberID
	Time            time.Time
	HashChainResult string
	HashChain       string
	SignatureHash   string

	// TimestampHashChain proves this record's inclusion in a batch stamp.
	// Empty when the record was stamped alone.
	TimestampHashChain string
	Timestamp          *TimestampRecord
	Archived           bool
}

func (r *MessageRecord) RecordID() int64       { return r.ID }
func (r *MessageRecord) RecordTime() time.Time { return r.Time }

// IsTimestamped reports whether a timestamp has been attached.
func (r *MessageRecord) IsTimestamped() bool {
	return r.Timestamp != nil
}

// AttachTimestamp links the record to ts. The link can be set only once.
func (r *MessageRecord) AttachTimestamp(ts *TimestampRecord, hashChain string) error {
	if ts == nil {
		return fmt.Errorf("timestamp record is required")
	}
	if r.Timestamp != nil {
		return fmt.Errorf("message record %d already timestamped: %w", r.ID, sentinel.ErrConflict)
	}
	r.Timestamp = ts
	r.TimestampHashChain = hashChain
	return nil
}

// TimestampRecord is a TSA token covering one or more message records.
type TimestampRecord struct {
	ID   int64
	Time time.Time
	// TimestampDER is the base64-encoded time-stamp token.
	TimestampDER    string
	HashChainResult string
	Archived        bool
}

func (r *TimestampRecord) RecordID() int64       { return r.ID }
func (r *TimestampRecord) RecordTime() time.Time { return r.Time }

// Now truncates to millisecond precision, the resolution records are stored with.
func Now(clock func() time.Time) time.Time {
	return clock().UTC().Truncate(time.Millisecond)
}
