package timestamper

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"msglog/pkg/platform/digest"
)

// Request asks a TSA to stamp a single digest.
type Request struct {
	ID        string           `json:"requestId"`
	Algorithm digest.Algorithm `json:"digestAlgorithm"`
	// Digest is the base64 value being stamped: a record's signature hash or a batch root.
	Digest string `json:"digest"`
}

// Provider performs the time-stamp protocol exchange with one TSA and returns
// the DER encoded token. Implementations should wrap ErrMalformedResponse or
// ErrVerification where they can tell those apart from transport failures.
type Provider interface {
	Timestamp(ctx context.Context, tsaURL string, req Request) ([]byte, error)
}
