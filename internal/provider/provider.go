// Package provider talks to the external payment provider: hosted
// checkout initialization, transaction verification, and webhook
// signature validation.
package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Checkout is the result of initializing a hosted checkout session.
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyResult is the provider's view of a transaction.
type VerifyResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// Client calls the provider's REST API. Callers retry on network
// errors; the reconciler's idempotent convergence makes that safe.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient constructs a provider Client.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type initializeRequest struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	if !env.Status {
		return fmt.Errorf("provider error: %s", env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode provider data: %w", err)
		}
	}
	return nil
}

// Initialize starts a hosted checkout session for the given reference.
func (c *Client) Initialize(ctx context.Context, email string, amount int64, currency, reference string) (*Checkout, error) {
	var out Checkout
	err := c.do(ctx, http.MethodPost, "/transaction/initialize",
		initializeRequest{Email: email, Amount: amount, Currency: currency, Reference: reference},
		&out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify fetches the provider's current view of a transaction.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var out VerifyResult
	err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidSignature reports whether signature is a correct HMAC-SHA512 of
// the raw webhook body under the shared secret. Compared in constant
// time. Must pass before any webhook payload is processed.
func ValidSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// Sign computes the webhook signature for a payload. Exported for the
// test harness and local webhook replay tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookEvent is the shape of an inbound provider webhook payload.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}
