package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SeeMe2025/SeeMeBackend/internal/provider"
	"github.com/SeeMe2025/SeeMeBackend/internal/utils"
)

// sseWriter frames gateway envelope events onto a committed event stream.
// Callers are provider-agnostic: they see only the gateway's own shapes,
// never the upstream wire format.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

// newSSEWriter commits streaming headers and returns the writer. Headers
// disable intermediary buffering and caching.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w}
	if flusher, ok := w.(http.Flusher); ok {
		s.flusher = flusher
		flusher.Flush()
	}
	return s
}

// Failed reports whether a previous write did not reach the caller.
func (s *sseWriter) Failed() bool { return s.failed }

func (s *sseWriter) writeFrame(payload any) bool {
	if s.failed {
		return false
	}
	data, err := utils.MarshalNoEscape(payload)
	if err != nil {
		s.failed = true
		return false
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.failed = true
		return false
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return true
}

// Chunk forwards one text delta.
func (s *sseWriter) Chunk(text string) bool {
	return s.writeFrame(map[string]string{"chunk": text})
}

// ToolInvocation forwards one assembled tool call.
func (s *sseWriter) ToolInvocation(call provider.ToolCall) bool {
	return s.writeFrame(map[string]any{"toolInvocation": call})
}

// Done terminates a successful stream.
func (s *sseWriter) Done() {
	if s.failed {
		return
	}
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		s.failed = true
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// errorFrame is the in-band structured error envelope. Once streaming has
// begun the response status is committed, so faults travel in-band.
type errorFrame struct {
	Error     string         `json:"error"`
	ErrorCode string         `json:"errorCode"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	RequestID string         `json:"requestId"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Fault emits a structured error envelope in-band.
func (s *sseWriter) Fault(f errorFrame) {
	s.writeFrame(f)
}
