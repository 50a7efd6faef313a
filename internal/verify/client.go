package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"webhook-service/internal/config"
	"webhook-service/internal/webhook"
)

// Verifier is the external signature-verification capability. The provider
// SDKs and their crypto live behind it; the pipeline only consumes a verdict.
type Verifier interface {
	Verify(ctx context.Context, gateway webhook.Gateway, rawPayload []byte, signature string) (bool, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, gateway webhook.Gateway, rawPayload []byte, signature string) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, gateway webhook.Gateway, rawPayload []byte, signature string) (bool, error) {
	return f(ctx, gateway, rawPayload, signature)
}

const defaultTimeoutMs = 10_000

type request struct {
	Gateway   webhook.Gateway `json:"gateway"`
	Payload   string          `json:"payload"`
	Signature string          `json:"signature"`
}

type response struct {
	Valid bool `json:"valid"`
}

// Client calls the verification service over HTTP. A non-2xx response or a
// transport error is an error, not a verdict: the caller treats it as
// transient, while valid=false is final.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(cfg config.Verifier) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return &Client{
		url:    cfg.URL,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (c *Client) Verify(ctx context.Context, gateway webhook.Gateway, rawPayload []byte, signature string) (bool, error) {
	body, err := json.Marshal(request{
		Gateway:   gateway,
		Payload:   string(rawPayload),
		Signature: signature,
	})
	if err != nil {
		return false, errors.Wrap(err, "marshalling verification request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(body))
	if err != nil {
		return false, errors.Wrap(err, "creating verification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "calling verification service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, errors.Errorf("verification service responded %s", resp.Status)
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, errors.Wrap(err, "decoding verification response")
	}

	return result.Valid, nil
}
