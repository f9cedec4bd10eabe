package emitter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/types"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Driftwatch-Signature"

// EventHeader carries the notification event.
const EventHeader = "X-Driftwatch-Event"

// WebhookConfig configures the webhook emitter.
type WebhookConfig struct {
	URL     string
	Secret  string        // signs the body when set
	Timeout time.Duration // default: 10s
	Client  *http.Client
}

// WebhookEmitter POSTs notifications as JSON.
type WebhookEmitter struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookEmitter creates a webhook sink.
func NewWebhookEmitter(cfg WebhookConfig) (*WebhookEmitter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookEmitter{
		url:    cfg.URL,
		secret: []byte(cfg.Secret),
		client: client,
	}, nil
}

// Name returns "webhook".
func (e *WebhookEmitter) Name() string {
	return "webhook"
}

// Notify posts the alert. Any non-2xx response is an error.
func (e *WebhookEmitter) Notify(ctx context.Context, a types.Alert, event alert.Event) error {
	body, err := json.Marshal(newNotification(a, event))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(event))
	if len(e.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(e.secret, body))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Close is a no-op.
func (e *WebhookEmitter) Close() error {
	return nil
}

// Sign returns "sha256=" followed by the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
