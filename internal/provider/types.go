// Package provider types - shared types for upstream completion providers.
//
// DESIGN: Two wire families are modeled (OpenAI-style SSE deltas and
// Anthropic-style typed events) behind one Client.Stream contract producing
// the same internal event callbacks. Each family gets its own parser; there
// is no shared any-shaped decode path.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Family identifies the wire-protocol shape of an upstream provider.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
)

// FamilyFromString converts a string to a Family.
func FamilyFromString(s string) (Family, error) {
	switch s {
	case "openai":
		return FamilyOpenAI, nil
	case "anthropic":
		return FamilyAnthropic, nil
	default:
		return "", fmt.Errorf("unknown provider family %q", s)
	}
}

// Message is one role/content pair of the common internal message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is the caller-neutral tool schema, translated per family into the
// provider's own declaration shape.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is one fully reassembled tool invocation.
type ToolCall struct {
	// ID is a freshly generated correlation id, not the provider's.
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	ProviderID string          `json:"providerId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Request is one streaming completion request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []Tool
	// APIKey overrides the configured provider key when the caller brings
	// its own credential.
	APIKey string
}

// Handlers receives normalized stream events in upstream order.
// Cancellation is signalled through the stream context, not return values.
type Handlers struct {
	TextDelta func(text string)
	ToolCall  func(call ToolCall)
}

// Result summarizes one completed streaming session.
type Result struct {
	// Chars is the total length of emitted text, accumulated locally.
	Chars     int
	ToolCalls int
	// Aborted is set when the caller disconnected mid-stream. A disconnect
	// is a clean early termination, not an error.
	Aborted bool
}

// ErrStreamTimeout is raised when a stream exceeds its wall-clock budget.
var ErrStreamTimeout = errors.New("provider: stream exceeded wall-clock budget")

// UpstreamError is a terminal non-2xx response from a provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}
