// Command seeme runs the SeeMe gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SeeMe2025/SeeMeBackend/internal/admission"
	"github.com/SeeMe2025/SeeMeBackend/internal/config"
	"github.com/SeeMe2025/SeeMeBackend/internal/gateway"
	"github.com/SeeMe2025/SeeMeBackend/internal/monitoring"
	"github.com/SeeMe2025/SeeMeBackend/internal/provider"
	"github.com/SeeMe2025/SeeMeBackend/internal/store"
	"github.com/SeeMe2025/SeeMeBackend/internal/voicepool"
)

func main() {
	configPath := flag.String("config", "seeme.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open record store")
	}
	defer func() { _ = st.Close() }()

	tracker := monitoring.NewTracker(monitoring.Config{
		Enabled:     cfg.Monitoring.Enabled,
		LogToStdout: cfg.Monitoring.LogToStdout,
	}, st)
	defer func() { _ = tracker.Close() }()

	gate := admission.NewGate(st, admission.Options{
		VoiceDailyLimit:  cfg.Admission.VoiceDailyLimit,
		TextDailyLimit:   cfg.Admission.TextDailyLimit,
		FailClosed:       cfg.Admission.FailClosed,
		ExemptCategories: cfg.Admission.ExemptCategories,
	})

	providers := make(map[string]*provider.Client, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		family, err := provider.FamilyFromString(pc.Family)
		if err != nil {
			log.Fatal().Err(err).Str("provider", name).Msg("invalid provider config")
		}
		providers[name] = provider.NewClient(provider.Config{
			Name:    name,
			Family:  family,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Model:   pc.Model,
			Version: pc.Version,
		}, provider.WithBudget(config.DefaultStreamBudget))
		log.Info().Str("provider", name).Str("family", pc.Family).Msg("provider registered")
	}

	synth := voicepool.NewClient(cfg.VoicePool.BaseURL)
	pool := voicepool.NewPool(synth, cfg.VoicePool.Credentials, tracker, voicepool.Options{
		HealthCacheTTL:      cfg.VoicePool.HealthCacheTTL.Std(),
		RateLimitedCooldown: config.RateLimitedCooldown,
		NearLimitFraction:   config.NearLimitFraction,
	})

	gw := gateway.New(cfg, gate, providers, pool, synth, tracker, st)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Int("providers", len(providers)).
			Int("pool_size", pool.Size()).
			Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
