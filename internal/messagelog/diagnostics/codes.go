package diagnostics

import (
	"context"
	"errors"

	"msglog/internal/messagelog/timestamper"
)

// ReturnCode is the outcome of the last time-stamping attempt against a TSA.
type ReturnCode int

const (
	Success ReturnCode = iota
	ErrorCodeInternal
	ErrorCodeUnknown
	ErrorCodeUninitialized
	ErrorCodeTimeout
	ErrorCodeCannotConnect
	ErrorCodeMalformedURL
	ErrorCodeMalformedResponse
	ErrorCodeVerificationFailed
	ErrorCodeNoTSAConfigured
)

var codeNames = map[ReturnCode]string{
	Success:                     "SUCCESS",
	ErrorCodeInternal:           "ERROR_CODE_INTERNAL",
	ErrorCodeUnknown:            "ERROR_CODE_UNKNOWN",
	ErrorCodeUninitialized:      "ERROR_CODE_UNINITIALIZED",
	ErrorCodeTimeout:            "ERROR_CODE_TIMESTAMP_REQUEST_TIMED_OUT",
	ErrorCodeCannotConnect:      "ERROR_CODE_CANNOT_CONNECT",
	ErrorCodeMalformedURL:       "ERROR_CODE_MALFORMED_TIMESTAMP_SERVER_URL",
	ErrorCodeMalformedResponse:  "ERROR_CODE_MALFORMED_RESPONSE",
	ErrorCodeVerificationFailed: "ERROR_CODE_VERIFICATION_FAILED",
	ErrorCodeNoTSAConfigured:    "ERROR_CODE_NO_TIMESTAMPING_PROVIDER_FOUND",
}

func (c ReturnCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[ErrorCodeUnknown]
}

// MarshalText renders the code by name in JSON snapshots.
func (c ReturnCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// CodeFor maps a time-stamping error to its return code. A nil error is Success.
func CodeFor(err error) ReturnCode {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, timestamper.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTimeout
	case errors.Is(err, timestamper.ErrMalformedURL):
		return ErrorCodeMalformedURL
	case errors.Is(err, timestamper.ErrNetwork):
		return ErrorCodeCannotConnect
	case errors.Is(err, timestamper.ErrMalformedResponse):
		return ErrorCodeMalformedResponse
	case errors.Is(err, timestamper.ErrVerification):
		return ErrorCodeVerificationFailed
	case errors.Is(err, timestamper.ErrNoTSAConfigured):
		return ErrorCodeNoTSAConfigured
	case errors.Is(err, timestamper.ErrInternal):
		return ErrorCodeInternal
	default:
		return ErrorCodeUnknown
	}
}
