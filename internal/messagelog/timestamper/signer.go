package timestamper

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxSignerResponse = 1 << 20

type signerRequest struct {
	TSAURL string `json:"tsaUrl"`
	Request
}

type signerResponse struct {
	TimestampDER string `json:"timestampDer"`
	Error        string `json:"error,omitempty"`
}

// SignerProvider delegates the TSP exchange to the signer service over HTTP.
type SignerProvider struct {
	endpoint   string
	httpClient *http.Client
}

// NewSignerProvider creates a provider posting to signerURL + "/timestamp".
// A nil httpClient gets a client with an otelhttp transport.
func NewSignerProvider(signerURL string, httpClient *http.Client) *SignerProvider {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &SignerProvider{
		endpoint:   strings.TrimRight(signerURL, "/") + "/timestamp",
		httpClient: httpClient,
	}
}

// Timestamp asks the signer to obtain a token for req from tsaURL.
func (p *SignerProvider) Timestamp(ctx context.Context, tsaURL string, req Request) ([]byte, error) {
	body, err := json.Marshal(signerRequest{TSAURL: tsaURL, Request: req})
	if err != nil {
		return nil, fmt.Errorf("%w: encode signer request: %v", ErrInternal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build signer request: %v", ErrInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out signerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSignerResponse)).Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, statusError(resp.StatusCode, "")
		}
		return nil, fmt.Errorf("%w: decode signer response: %v", ErrMalformedResponse, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, out.Error)
	}

	der, err := base64.StdEncoding.DecodeString(out.TimestampDER)
	if err != nil {
		return nil, fmt.Errorf("%w: token is not base64: %v", ErrMalformedResponse, err)
	}
	return der, nil
}

func statusError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: signer: %s", ErrTimeout, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: signer: %s", ErrNetwork, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: signer: %s", ErrVerification, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: signer rejected request: %s", ErrInternal, msg)
	default:
		return fmt.Errorf("%w: signer status %d: %s", ErrMalformedResponse, status, msg)
	}
}
