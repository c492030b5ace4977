package timestamper

import "errors"

// Typed causes of a failed time-stamping attempt.
var (
	ErrNoTSAConfigured   = errors.New("no time-stamping providers configured")
	ErrMalformedURL      = errors.New("malformed time-stamping provider URL")
	ErrNetwork           = errors.New("cannot connect to time-stamping provider")
	ErrTimeout           = errors.New("time-stamp request timed out")
	ErrMalformedResponse = errors.New("malformed time-stamp response")
	ErrVerification      = errors.New("time-stamp response failed verification")
	ErrInternal          = errors.New("internal time-stamping error")
)

func isTyped(err error) bool {
	for _, typed := range []error{
		ErrNoTSAConfigured, ErrMalformedURL, ErrNetwork, ErrTimeout,
		ErrMalformedResponse, ErrVerification, ErrInternal,
	} {
		if errors.Is(err, typed) {
			return true
		}
	}
	return false
}
