// Package sms delivers one-time passwords by text message.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one delivery attempt, connection setup included.
const DefaultTimeout = 10 * time.Second

// ErrDisabled is returned by Send when no provider is configured.
var ErrDisabled = errors.New("sms: provider not configured")

// Sender delivers an OTP to a phone number.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
	// Enabled reports whether a provider is configured. A disabled sender
	// must not be presented to users as SMS delivery.
	Enabled() bool
}

// HTTPSender posts messages to an SMS gateway's JSON API.
type HTTPSender struct {
	apiKey   string
	apiURL   string
	senderID string
	timeout  time.Duration
	codeTTL  time.Duration
	client   *http.Client
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender creates an HTTPSender. It is enabled only when both apiKey
// and apiURL are set. A non-positive timeout selects DefaultTimeout.
func NewHTTPSender(apiKey, apiURL, senderID string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{
		apiKey:   apiKey,
		apiURL:   apiURL,
		senderID: senderID,
		timeout:  timeout,
		codeTTL:  5 * time.Minute,
		client:   &http.Client{},
	}
}

// SetCodeTTL changes the validity period quoted in the message text.
func (s *HTTPSender) SetCodeTTL(ttl time.Duration) {
	if ttl > 0 {
		s.codeTTL = ttl
	}
}

func (s *HTTPSender) Enabled() bool {
	return s.apiKey != "" && s.apiURL != ""
}

type sendRequest struct {
	SenderID string `json:"sender_id,omitempty"`
	To       string `json:"to"`
	Message  string `json:"message"`
}

type sendResponse struct {
	Return  bool   `json:"return"`
	Message string `json:"message"`
}

// Message is the text delivered for code.
func Message(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is %s. It is valid for %d minutes. Do not share it with anyone.",
		code, int(ttl.Minutes()))
}

// SendOTP delivers code to phone. The call is abandoned after the sender's
// timeout even if ctx allows longer.
func (s *HTTPSender) SendOTP(ctx context.Context, phone, code string) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(sendRequest{
		SenderID: s.senderID,
		To:       phone,
		Message:  Message(code, s.codeTTL),
	})
	if err != nil {
		return fmt.Errorf("sms: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("sms: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms: gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	// Some gateways answer 200 with {"return": false, "message": "..."}.
	var out sendResponse
	if len(raw) > 0 && json.Unmarshal(raw, &out) == nil && !out.Return && out.Message != "" {
		return fmt.Errorf("sms: gateway rejected message: %s", out.Message)
	}
	return nil
}
