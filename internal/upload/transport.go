package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTimeout bounds one upload request
const DefaultTimeout = 30 * time.Second

// Transport delivers one batch to the remote collector. A nil error means
// the collector accepted the batch.
type Transport interface {
	Send(ctx context.Context, p *Payload) error
}

// StatusError is returned when the collector answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("collector responded with status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("collector responded with status %d", e.Code)
}

// WithHTTPClient sets the client used for uploads
func WithHTTPClient(client *http.Client) func(*HTTPTransport) {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithSigningSecret makes the transport send an HS256 bearer token signed
// with secret. The token subject is the device id of the payload.
func WithSigningSecret(secret []byte) func(*HTTPTransport) {
	return func(t *HTTPTransport) {
		t.secret = secret
	}
}

// HTTPTransport POSTs payloads as JSON to an endpoint
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	secret   []byte
}

// NewHTTPTransport creates an HTTPTransport posting to endpoint
func NewHTTPTransport(endpoint string, options ...func(*HTTPTransport)) *HTTPTransport {
	t := HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

func (t *HTTPTransport) Send(ctx context.Context, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.DeduplicationID())

	if len(t.secret) > 0 {
		token, err := t.token(p.DeviceID)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *HTTPTransport) token(deviceID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
