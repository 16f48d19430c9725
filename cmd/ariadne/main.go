package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariadne-labs/ariadne/internal/audio"
	"github.com/ariadne-labs/ariadne/internal/bus"
	"github.com/ariadne-labs/ariadne/internal/config"
	"github.com/ariadne-labs/ariadne/internal/httpapi"
	"github.com/ariadne-labs/ariadne/internal/instructions"
	"github.com/ariadne-labs/ariadne/internal/interaction"
	"github.com/ariadne-labs/ariadne/internal/observability"
	"github.com/ariadne-labs/ariadne/internal/session"
	"github.com/ariadne-labs/ariadne/internal/transcribe"
	"github.com/ariadne-labs/ariadne/internal/understand"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := instructions.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("instruction archive init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("instruction archive: in-memory")
	} else {
		log.Printf("instruction archive: postgres")
	}

	transcriber := transcribe.NewClient(cfg.TranscriptionURL, cfg.TranscriptionTimeout)
	maker := understand.NewClient(cfg.UnderstandingURL, cfg.UnderstandingTimeout)
	worker := understand.NewWorker(maker, store)

	if !cfg.SecureContext {
		log.Printf("insecure transport configured: audio capture will be refused")
	}

	factory := func(sessionID string) (*session.Runtime, error) {
		b := bus.New()
		b.SetDropHook(metrics.ObserveBroadcastDrop)
		bgCtx, err := b.Attach("background", 64)
		if err != nil {
			return nil, err
		}

		stream := audio.NewStreamDevice(cfg.SecureContext)
		responder := &interaction.BusResponder{
			Bus:     b,
			Target:  "background",
			Timeout: cfg.RequestTimeout,
		}
		machine := interaction.New(interaction.Config{
			SessionID:         sessionID,
			SilenceThreshold:  cfg.SilenceThreshold,
			SilenceDuration:   cfg.SilenceDuration,
			MinUtteranceBytes: cfg.MinUtteranceBytes,
			SampleRate:        cfg.SampleRate,
			RespondingHold:    cfg.RespondingHold,
		}, stream, transcriber, responder, b, metrics)

		runCtx, cancel := context.WithCancel(context.Background())
		go worker.Run(runCtx, bgCtx)
		go machine.Run(runCtx)
		return session.NewRuntime(machine, stream, b, cancel), nil
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout, factory)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, store, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
