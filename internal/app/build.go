// Package app wires configuration into a running relay: asset cache, engines,
// pipeline controller and HTTP gateway.
package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/merithbot/merith/internal/assets"
	"github.com/merithbot/merith/internal/audio"
	"github.com/merithbot/merith/internal/brain"
	"github.com/merithbot/merith/internal/config"
	"github.com/merithbot/merith/internal/httpapi"
	"github.com/merithbot/merith/internal/observability"
	"github.com/merithbot/merith/internal/playback"
	"github.com/merithbot/merith/internal/session"
	"github.com/merithbot/merith/internal/stt"
	"github.com/merithbot/merith/internal/tts"
	"github.com/merithbot/merith/internal/voice"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Controller *voice.Controller
	Brain      *brain.Client
	Metrics    *observability.Metrics

	// Cleanup releases external resources (audio backends) on shutdown.
	Cleanup func() error
}

func Build(cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	cache := assets.New(cfg.AssetDir, cfg.AssetBaseURL, logger)
	cache.OnDownload = func(_ string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.AssetDownloads.WithLabelValues(result).Inc()
	}

	transcriber, err := buildTranscriber(cfg, cache, logger)
	if err != nil {
		return nil, err
	}

	synthesizer, err := buildSynthesizer(cfg, cache, logger)
	if err != nil {
		return nil, err
	}

	brainClient := brain.NewClient(brain.Config{
		BaseURL:     cfg.InferenceURL,
		Model:       cfg.InferenceModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.InferenceTimeout,
	}, logger)

	// One gate for the whole process: the microphone is a single shared
	// device, so concurrent sessions take turns recording.
	gate := audio.NewGate()
	vadCfg := audio.DefaultVADConfig()
	vadCfg.SpeechRMS = cfg.VADSpeechRMS
	vadCfg.SilenceRMS = cfg.VADSilenceRMS
	capturer := audio.NewCapturer(audio.PortAudioDevice{}, audio.CaptureConfig{
		SampleRate:     cfg.CaptureSampleRate,
		FrameSize:      cfg.CaptureFrameSize,
		MaxDuration:    cfg.MaxRecording,
		SilenceTimeout: cfg.SilenceTimeout,
		VAD:            vadCfg,
	}, gate, logger)

	newSink, cleanup, err := buildSinkFactory(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionTTL)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	controller := voice.NewController(
		sessions,
		capturer,
		transcriber,
		brainClient,
		synthesizer,
		newSink,
		metrics,
		logger,
	)

	api := httpapi.New(cfg, sessions, controller, brainClient, metrics)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Controller: controller,
		Brain:      brainClient,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}

func buildTranscriber(cfg config.Config, cache *assets.Cache, logger *log.Logger) (*stt.Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.STTEngine)) {
	case "whisper":
		engine, err := stt.NewWhisperCLI(stt.WhisperCLIConfig{
			Bin:        cfg.WhisperCLI,
			ModelAsset: cfg.WhisperModel,
			Language:   cfg.WhisperLanguage,
			Threads:    cfg.WhisperThreads,
		}, cache)
		if err != nil {
			return nil, fmt.Errorf("stt init failed: %w", err)
		}
		return stt.NewTranscriber(engine, logger), nil
	case "mock":
		return stt.NewTranscriber(stt.NewMockEngine(), logger), nil
	default:
		return nil, fmt.Errorf("unknown stt engine %q", cfg.STTEngine)
	}
}

func buildSynthesizer(cfg config.Config, cache *assets.Cache, logger *log.Logger) (*tts.Synthesizer, error) {
	ttsCfg := tts.Config{
		VoiceAsset: cfg.VoiceAsset,
		OutputRate: cfg.PlaybackRate,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.TTSEngine)) {
	case "piper":
		engine, err := tts.NewPiper(tts.PiperConfig{
			Bin:        cfg.PiperBin,
			NativeRate: cfg.PiperSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("tts init failed: %w", err)
		}
		return tts.NewSynthesizer(engine, cache, ttsCfg, logger), nil
	case "mock":
		// The mock engine needs no voice model; skip the asset download.
		ttsCfg.VoiceAsset = ""
		return tts.NewSynthesizer(tts.NewMockEngine(), cache, ttsCfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown tts engine %q", cfg.TTSEngine)
	}
}

// buildSinkFactory maps the configured sink onto a per-session factory. The
// call sink streams opus frames into the session's websocket queue; speaker
// and null ignore the session and share one device.
func buildSinkFactory(cfg config.Config) (voice.SinkFactory, func() error, error) {
	noCleanup := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.PlaybackSink)) {
	case "call":
		factory := func(sessionID string, outbound chan<- any) voice.PlaybackSink {
			sink, err := playback.NewCall(playback.NewBridgeWriter(sessionID, outbound))
			if err != nil {
				// Encoder construction only fails on invalid parameters,
				// which are compile-time constants here.
				return playback.Null{}
			}
			return sink
		}
		return factory, noCleanup, nil
	case "speaker":
		speaker, err := playback.NewSpeaker(cfg.PlaybackRate)
		if err != nil {
			return nil, nil, fmt.Errorf("speaker init failed: %w", err)
		}
		factory := func(string, chan<- any) voice.PlaybackSink { return speaker }
		return factory, noCleanup, nil
	case "null":
		factory := func(string, chan<- any) voice.PlaybackSink { return playback.Null{} }
		return factory, noCleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown playback sink %q", cfg.PlaybackSink)
	}
}
