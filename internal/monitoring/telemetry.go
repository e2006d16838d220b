// Package monitoring - telemetry.go records events to the durable store.
//
// DESIGN: Recording is fire-and-forget. Record marshals the event, hands it
// to a background goroutine, and returns immediately; a write failure is
// logged and discarded so the response path never blocks on telemetry.
package monitoring

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SeeMe2025/SeeMeBackend/internal/store"
)

// Recorder is the narrow interface the request path depends on.
type Recorder interface {
	Record(event Event)
}

// Config controls the tracker.
type Config struct {
	Enabled     bool
	LogToStdout bool
	// WriteTimeout bounds each background store write.
	WriteTimeout time.Duration
}

// Tracker persists events to the record store.
type Tracker struct {
	cfg   Config
	store *store.Store
	wg    sync.WaitGroup
}

// NewTracker creates a tracker over the given store. A nil store disables
// persistence; events are then logged only.
func NewTracker(cfg Config, st *store.Store) *Tracker {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Tracker{cfg: cfg, store: st}
}

// Record writes one event, best effort.
func (t *Tracker) Record(event Event) {
	if !t.cfg.Enabled || event == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("kind", event.Kind()).Msg("telemetry: marshal failed")
		return
	}

	if t.cfg.LogToStdout {
		id := event.CorrelationID()
		if len(id) > 8 {
			id = id[:8]
		}
		log.Info().Str("kind", event.Kind()).Str("id", id).Msg("telemetry")
	}

	if t.store == nil {
		return
	}

	kind, requestID := event.Kind(), event.CorrelationID()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
		defer cancel()

		var err error
		if snap, ok := event.(*CredentialEvent); ok {
			// Credential snapshots are keyed, not append-only: the store
			// keeps only the latest row per credential.
			err = t.store.SaveCredentialStatus(ctx, store.CredentialSnapshot{
				KeyMask:   snap.KeyMask,
				State:     snap.State,
				Used:      snap.Used,
				Limit:     snap.Limit,
				Fraction:  snap.Fraction,
				NextReset: snap.NextReset,
				CheckedAt: snap.Timestamp,
			})
		} else {
			err = t.store.AppendTelemetry(ctx, kind, requestID, payload)
		}
		if err != nil {
			log.Error().Err(err).Str("kind", kind).Msg("telemetry: failed to write event")
		}
	}()
}

// Close waits for in-flight writes to land.
func (t *Tracker) Close() error {
	t.wg.Wait()
	return nil
}

// NopRecorder discards every event. Used in tests and when monitoring is
// disabled.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
