// HTTP request handling for the SeeMe gateway.
//
// DESIGN: Main request flow:
//   - handleChat():  admission → provider stream → SSE envelope to caller
//   - handleTTS():   admission → pooled credential → synthesis proxy
//   - handleVoices(): static voice catalog
//   - handleHealth(): store reachability check
//
// The gateway owns one long-lived instance of every collaborator; request
// handlers share no other mutable state.
package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SeeMe2025/SeeMeBackend/internal/admission"
	"github.com/SeeMe2025/SeeMeBackend/internal/config"
	"github.com/SeeMe2025/SeeMeBackend/internal/monitoring"
	"github.com/SeeMe2025/SeeMeBackend/internal/provider"
	"github.com/SeeMe2025/SeeMeBackend/internal/store"
	"github.com/SeeMe2025/SeeMeBackend/internal/voicepool"
)

// Gateway glues admission, providers, the voice pool, and telemetry
// together per incoming request.
type Gateway struct {
	cfg       *config.Config
	gate      *admission.Gate
	providers map[string]*provider.Client
	pool      *voicepool.Pool
	synth     *voicepool.Client
	tracker   monitoring.Recorder
	store     *store.Store
}

// New creates a Gateway from its collaborators.
func New(cfg *config.Config, gate *admission.Gate, providers map[string]*provider.Client,
	pool *voicepool.Pool, synth *voicepool.Client, tracker monitoring.Recorder, st *store.Store) *Gateway {
	if tracker == nil {
		tracker = monitoring.NopRecorder{}
	}
	return &Gateway{
		cfg:       cfg,
		gate:      gate,
		providers: providers,
		pool:      pool,
		synth:     synth,
		tracker:   tracker,
		store:     st,
	}
}

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", g.handleChat)
	mux.HandleFunc("/v1/tts", g.handleTTS)
	mux.HandleFunc("/v1/voices", g.handleVoices)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStats)
	return mux
}

// identityFrom builds the caller identity tuple from request headers.
func identityFrom(r *http.Request) admission.Identity {
	return admission.Identity{
		DeviceID: r.Header.Get("X-Device-ID"),
		UserID:   r.Header.Get("X-User-ID"),
		Address:  clientAddress(r),
	}
}

// clientAddress prefers the first forwarded hop, falling back to the
// connection's remote address without its port.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getRequestID gets or generates a request ID.
func getRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// writeDenied maps an admission decision to its rejection response.
func writeDenied(w http.ResponseWriter, d admission.Decision, voice bool) {
	category := "text"
	if voice {
		category = "voice"
	}
	switch d.Reason {
	case admission.ReasonBanned:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  "banned",
			"reason": d.BanReason,
		})
	case admission.ReasonLimit:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":    "rate_limit_exceeded",
			"category": category,
			"used":     d.Used,
			"max":      d.Max,
		})
	case admission.ReasonMissingIdentity:
		writeError(w, "missing device identifier", http.StatusBadRequest)
	default:
		writeError(w, "temporarily unavailable", http.StatusInternalServerError)
	}
}

// handleVoices serves the static voice catalog.
func (g *Gateway) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	voices := g.cfg.VoicePool.Voices
	if voices == nil {
		voices = []config.Voice{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"voices": voices})
}

// handleStats serves operator counters. Loopback only: the endpoint leaks
// masked credential state and must not be reachable from callers.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if g.store == nil {
		writeError(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	creds, err := g.store.CredentialStatuses(r.Context())
	if err != nil {
		writeError(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	if creds == nil {
		creds = []store.CredentialSnapshot{}
	}

	telemetry := map[string]int{}
	for _, kind := range []string{"request", "response", "error"} {
		n, err := g.store.TelemetryCount(r.Context(), kind)
		if err != nil {
			writeError(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		telemetry[kind] = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"credentials": creds,
		"telemetry":   telemetry,
	})
}

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	if g.store != nil {
		if err := g.store.Ping(r.Context()); err != nil {
			health["status"] = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}
