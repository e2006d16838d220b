// Package monitoring - types.go defines telemetry event types.
//
// DESIGN: Every record the gateway emits around a request is one of these
// structs. They are serialized as JSON and appended to the record store;
// the core never reads them back.
package monitoring

import "time"

// Event is anything the tracker can record.
type Event interface {
	Kind() string
	CorrelationID() string
}

// RequestEvent is written when a request is admitted, before any upstream
// call is made.
type RequestEvent struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id,omitempty"`
	ClientIP  string    `json:"client_ip"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Category  string    `json:"category,omitempty"`
	Voice     bool      `json:"voice"`
}

func (e *RequestEvent) Kind() string          { return "request" }
func (e *RequestEvent) CorrelationID() string { return e.RequestID }

// ResponseEvent is written after a stream finishes, aborts, or the voice
// proxy returns.
type ResponseEvent struct {
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	Chars            int       `json:"chars"`
	EstimatedTokens  int       `json:"estimated_tokens"`
	ToolCalls        int       `json:"tool_calls"`
	Aborted          bool      `json:"aborted"`
	TotalLatencyMs   int64     `json:"total_latency_ms"`
	UpstreamStatus   int       `json:"upstream_status,omitempty"`
	ResponseBodySize int       `json:"response_body_size,omitempty"`
}

func (e *ResponseEvent) Kind() string          { return "response" }
func (e *ResponseEvent) CorrelationID() string { return e.RequestID }

// ErrorEvent is written when a stream faults after admission.
type ErrorEvent struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Diagnostic string    `json:"diagnostic,omitempty"`
}

func (e *ErrorEvent) Kind() string          { return "error" }
func (e *ErrorEvent) CorrelationID() string { return e.RequestID }

// CredentialEvent snapshots one pooled credential's health after a refresh.
type CredentialEvent struct {
	KeyMask   string    `json:"key_mask"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Fraction  float64   `json:"fraction"`
	NextReset time.Time `json:"next_reset,omitempty"`
}

func (e *CredentialEvent) Kind() string          { return "credential_status" }
func (e *CredentialEvent) CorrelationID() string { return e.KeyMask }
