package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/merithbot/merith/internal/app"
	"github.com/merithbot/merith/internal/audio"
	"github.com/merithbot/merith/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config error", "err", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "merith",
	})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	// Device errors after this point surface per turn, not at startup; a
	// relay with no microphone can still serve health and session endpoints.
	if err := audio.Initialize(); err != nil {
		logger.Warn("audio backend init failed", "err", err)
	} else {
		defer audio.Terminate()
	}

	result, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal("build failed", "err", err)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Warn("cleanup failed", "err", err)
			}
		}()
	}

	// Probe and warm the local model server so the first real turn does not
	// pay the model load cost. Both are best effort.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := result.Brain.HealthCheck(probeCtx); err != nil {
		logger.Warn("inference endpoint not reachable", "url", cfg.InferenceURL, "err", err)
	} else if err := result.Brain.Warmup(probeCtx, cfg.Persona); err != nil {
		logger.Warn("inference warmup failed", "err", err)
	} else {
		logger.Info("inference endpoint ready", "url", cfg.InferenceURL, "model", cfg.InferenceModel)
	}
	probeCancel()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	result.Sessions.StartJanitor(runCtx, 5*time.Second)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	go func() {
		logger.Info("listening", "addr", cfg.BindAddr, "stt", cfg.STTEngine, "tts", cfg.TTSEngine, "sink", cfg.PlaybackSink)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
