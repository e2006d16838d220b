package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SeeMe2025/SeeMeBackend/internal/admission"
	"github.com/SeeMe2025/SeeMeBackend/internal/config"
	"github.com/SeeMe2025/SeeMeBackend/internal/monitoring"
	"github.com/SeeMe2025/SeeMeBackend/internal/provider"
	"github.com/SeeMe2025/SeeMeBackend/internal/utils"
)

// maxDiagnosticLen bounds the diagnostic string in error telemetry.
const maxDiagnosticLen = 500

// chatRequest is the client-facing completion request.
type chatRequest struct {
	Provider string             `json:"provider,omitempty"`
	Model    string             `json:"model,omitempty"`
	Messages []provider.Message `json:"messages"`
	Tools    []provider.Tool    `json:"tools,omitempty"`
	Category string             `json:"category,omitempty"`
	// APIKey is a caller-supplied upstream credential. It bypasses quota
	// (never bans) and is forwarded to the provider instead of ours.
	APIKey string `json:"apiKey,omitempty"`
}

// handleChat runs one completion request end to end:
// Received → (Admission: Allowed|Denied) → Streaming → Finalized.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := getRequestID(r)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, "messages are required", http.StatusBadRequest)
		return
	}

	client, ok := g.selectProvider(req.Provider)
	if !ok {
		writeError(w, "unknown provider", http.StatusBadRequest)
		return
	}
	model := req.Model
	if model == "" {
		model = client.DefaultModel()
	}

	identity := identityFrom(r)
	decision := g.gate.Admit(r.Context(), admission.Request{
		Identity:               identity,
		Voice:                  false,
		OwnsUpstreamCredential: req.APIKey != "",
		Category:               req.Category,
	})
	if !decision.Allowed {
		writeDenied(w, decision, false)
		return
	}

	// Request-started record: best effort, never blocks the caller.
	g.tracker.Record(&monitoring.RequestEvent{
		RequestID: requestID,
		Timestamp: startTime,
		DeviceID:  identity.DeviceID,
		UserID:    identity.UserID,
		ClientIP:  identity.Address,
		Provider:  client.Name(),
		Model:     model,
		Category:  req.Category,
	})

	// Headers commit here; every fault from now on travels in-band.
	sse := newSSEWriter(w)

	// A failed SSE write means the caller is gone; cancelling the stream
	// context propagates the disconnect to the upstream read.
	streamCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var textBuf strings.Builder
	handlers := provider.Handlers{
		TextDelta: func(text string) {
			textBuf.WriteString(text)
			if !sse.Chunk(text) {
				cancel()
			}
		},
		ToolCall: func(call provider.ToolCall) {
			if !sse.ToolInvocation(call) {
				cancel()
			}
		},
	}

	result, err := client.Stream(streamCtx, provider.Request{
		Model:    model,
		Messages: req.Messages,
		Tools:    req.Tools,
		APIKey:   req.APIKey,
	}, handlers)

	if err != nil {
		g.finalizeStreamError(sse, requestID, client.Name(), model, err)
		return
	}

	sse.Done()
	g.tracker.Record(&monitoring.ResponseEvent{
		RequestID:       requestID,
		Timestamp:       time.Now(),
		Provider:        client.Name(),
		Model:           model,
		Chars:           result.Chars,
		EstimatedTokens: monitoring.EstimateTokens(model, textBuf.String()),
		ToolCalls:       result.ToolCalls,
		Aborted:         result.Aborted,
		TotalLatencyMs:  time.Since(startTime).Milliseconds(),
	})

	log.Info().
		Str("request_id", requestID).
		Str("provider", client.Name()).
		Int("chars", result.Chars).
		Bool("aborted", result.Aborted).
		Msg("stream complete")
}

// finalizeStreamError reports a stream fault in-band and to telemetry.
func (g *Gateway) finalizeStreamError(sse *sseWriter, requestID, providerName, model string, err error) {
	code := "internal_error"
	contextBlock := map[string]any{}

	var ue *provider.UpstreamError
	switch {
	case errors.Is(err, provider.ErrStreamTimeout):
		code = "stream_timeout"
	case errors.As(err, &ue):
		code = "upstream_rejected"
		contextBlock["upstreamStatus"] = ue.StatusCode
	}

	sse.Fault(errorFrame{
		Error:     err.Error(),
		ErrorCode: code,
		Provider:  providerName,
		Model:     model,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Context:   contextBlock,
	})

	g.tracker.Record(&monitoring.ErrorEvent{
		RequestID:  requestID,
		Timestamp:  time.Now(),
		Provider:   providerName,
		Model:      model,
		Code:       code,
		Message:    err.Error(),
		Diagnostic: utils.Truncate(fmt.Sprintf("%+v", err), maxDiagnosticLen),
	})

	log.Error().Err(err).
		Str("request_id", requestID).
		Str("provider", providerName).
		Str("code", code).
		Msg("stream failed")
}

// selectProvider resolves a provider by name, defaulting to the only one
// configured when the caller does not say.
func (g *Gateway) selectProvider(name string) (*provider.Client, bool) {
	if name != "" {
		c, ok := g.providers[name]
		return c, ok
	}
	if c, ok := g.providers["default"]; ok {
		return c, true
	}
	if len(g.providers) == 1 {
		for _, c := range g.providers {
			return c, true
		}
	}
	return nil, false
}
