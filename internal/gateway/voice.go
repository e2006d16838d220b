package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SeeMe2025/SeeMeBackend/internal/admission"
	"github.com/SeeMe2025/SeeMeBackend/internal/config"
	"github.com/SeeMe2025/SeeMeBackend/internal/monitoring"
	"github.com/SeeMe2025/SeeMeBackend/internal/voicepool"
)

// ttsRequest is the client-facing synthesis request.
type ttsRequest struct {
	Text     string `json:"text"`
	VoiceID  string `json:"voiceId"`
	ModelID  string `json:"modelId,omitempty"`
	Category string `json:"category,omitempty"`
}

// handleTTS is the parallel, simpler orchestration path for synthesis:
// admission (voice category) → pooled credential → upstream call →
// audio streamed back, failing over across credentials transparently.
func (g *Gateway) handleTTS(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := getRequestID(r)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" || req.VoiceID == "" {
		writeError(w, "text and voiceId are required", http.StatusBadRequest)
		return
	}

	// A caller bringing its own synthesis key skips the pool and quota;
	// bans still apply inside the gate.
	callerKey := r.Header.Get("X-Voice-API-Key")

	identity := identityFrom(r)
	decision := g.gate.Admit(r.Context(), admission.Request{
		Identity:               identity,
		Voice:                  true,
		OwnsUpstreamCredential: callerKey != "",
		Category:               req.Category,
	})
	if !decision.Allowed {
		writeDenied(w, decision, true)
		return
	}

	g.tracker.Record(&monitoring.RequestEvent{
		RequestID: requestID,
		Timestamp: startTime,
		DeviceID:  identity.DeviceID,
		UserID:    identity.UserID,
		ClientIP:  identity.Address,
		Provider:  "synthesis",
		Category:  req.Category,
		Voice:     true,
	})

	sr := voicepool.SynthesisRequest{VoiceID: req.VoiceID, Text: req.Text, ModelID: req.ModelID}

	resp, err := g.synthesizeWithFailover(r, callerKey, sr)
	if err != nil {
		if errors.Is(err, voicepool.ErrAllExhausted) {
			// Generic temporary-unavailability signal; never expose which
			// credential failed.
			writeError(w, "synthesis temporarily unavailable", http.StatusServiceUnavailable)
		} else {
			var ue *voicepool.UpstreamError
			if errors.As(err, &ue) && callerKey != "" && ue.StatusCode == http.StatusUnauthorized {
				writeError(w, "invalid synthesis credential", http.StatusUnauthorized)
			} else {
				log.Error().Err(err).Str("request_id", requestID).Msg("synthesis failed")
				writeError(w, "synthesis failed", http.StatusInternalServerError)
			}
		}
		g.tracker.Record(&monitoring.ErrorEvent{
			RequestID: requestID,
			Timestamp: time.Now(),
			Provider:  "synthesis",
			Code:      "synthesis_failed",
			Message:   err.Error(),
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	written := copyStream(w, resp.Body)

	g.tracker.Record(&monitoring.ResponseEvent{
		RequestID:        requestID,
		Timestamp:        time.Now(),
		Provider:         "synthesis",
		Chars:            len(req.Text),
		ResponseBodySize: written,
		TotalLatencyMs:   time.Since(startTime).Milliseconds(),
	})
}

// synthesizeWithFailover tries the caller's own key once, or rotates
// through the pool reporting failures until a credential serves the call.
func (g *Gateway) synthesizeWithFailover(r *http.Request, callerKey string, sr voicepool.SynthesisRequest) (*http.Response, error) {
	if callerKey != "" {
		return g.synth.Synthesize(r.Context(), callerKey, sr)
	}

	attempts := g.pool.Size()
	var lastErr error
	for i := 0; i < attempts; i++ {
		cred, err := g.pool.Acquire(r.Context())
		if err != nil {
			return nil, err
		}

		resp, err := g.synth.Synthesize(r.Context(), cred, sr)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var ue *voicepool.UpstreamError
		if errors.As(err, &ue) {
			g.pool.ReportFailure(cred, ue.StatusCode)
			switch ue.StatusCode {
			case http.StatusTooManyRequests, http.StatusUnauthorized,
				http.StatusPaymentRequired, http.StatusForbidden:
				continue // rotate to the next credential
			}
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = voicepool.ErrAllExhausted
	}
	return nil, lastErr
}

// copyStream streams audio to the caller with flushing, returning bytes
// written. A write failure means the caller disconnected.
func copyStream(w http.ResponseWriter, r io.Reader) int {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, config.DefaultBufferSize)
	total := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += wn
			if werr != nil {
				log.Debug().Err(werr).Msg("client disconnected during synthesis")
				return total
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("error reading synthesis stream")
			}
			return total
		}
	}
}
