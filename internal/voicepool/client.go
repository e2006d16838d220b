// Package voicepool fronts a pool of interchangeable credentials for the
// speech-synthesis service.
//
// FILES:
//   - client.go: HTTP client for the synthesis API (subscription + TTS)
//   - pool.go:   health-aware sticky round-robin credential selection
package voicepool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Subscription is the account-status payload returned by the synthesis
// service for one credential.
type Subscription struct {
	Tier               string `json:"tier"`
	CharacterCount     int64  `json:"character_count"`
	CharacterLimit     int64  `json:"character_limit"`
	VoiceSlotsUsed     int    `json:"voice_slots_used"`
	VoiceLimit         int    `json:"voice_limit"`
	Status             string `json:"status"`
	NextResetUnix      int64  `json:"next_character_count_reset_unix"`
}

// UpstreamError carries a non-2xx synthesis response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("synthesis upstream: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the synthesis service with per-call credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// NewClient creates a synthesis API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSubscription fetches the account status for one credential.
// A 401 or 429 is returned as *UpstreamError so the pool can classify it.
func (c *Client) GetSubscription(ctx context.Context, apiKey string) (*Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/user/subscription", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscription check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("subscription decode: %w", err)
	}
	return &sub, nil
}

// SynthesisRequest is one text-to-speech call.
type SynthesisRequest struct {
	VoiceID string  `json:"-"`
	Text    string  `json:"text"`
	ModelID string  `json:"model_id,omitempty"`
}

// Synthesize posts text for the given voice and returns the streaming
// response. The caller owns resp.Body; a non-2xx status is returned as
// *UpstreamError with the body consumed.
func (c *Client) Synthesize(ctx context.Context, apiKey string, sr SynthesisRequest) (*http.Response, error) {
	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/v1/text-to-speech/" + sr.VoiceID + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return resp, nil
}
