package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice relay daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	SessionTTL       time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	InferenceURL     string
	InferenceModel   string
	InferenceTimeout time.Duration
	Temperature      float64
	MaxTokens        int
	Persona          string

	CaptureSampleRate int
	CaptureFrameSize  int
	MaxRecording      time.Duration
	SilenceTimeout    time.Duration
	VADSpeechRMS      float64
	VADSilenceRMS     float64

	STTEngine       string
	WhisperCLI      string
	WhisperModel    string
	WhisperLanguage string
	WhisperThreads  int

	TTSEngine       string
	PiperBin        string
	VoiceAsset      string
	PiperSampleRate int

	AssetDir     string
	AssetBaseURL string

	PlaybackSink string
	PlaybackRate int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("MERITH_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("MERITH_METRICS_NAMESPACE", "merith"),
		LogLevel:         envOrDefault("MERITH_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		// LM Studio's default local endpoint. Ollama works with the same
		// surface at http://localhost:11434/v1.
		InferenceURL:   envOrDefault("MERITH_INFERENCE_URL", "http://localhost:1234/v1"),
		InferenceModel: envOrDefault("MERITH_INFERENCE_MODEL", "local-model"),
		Persona: envOrDefault("MERITH_PERSONA",
			"You are Merith, a friendly voice companion. Keep replies short and conversational."),
		Temperature:       0.7,
		MaxTokens:         150,
		CaptureSampleRate: 16000,
		CaptureFrameSize:  1024,
		VADSpeechRMS:      0.015,
		VADSilenceRMS:     0.008,
		STTEngine:         envOrDefault("MERITH_STT_ENGINE", "whisper"),
		WhisperCLI:        envOrDefault("MERITH_WHISPER_CLI", "whisper-cli"),
		WhisperModel:      envOrDefault("MERITH_WHISPER_MODEL", "ggml-base.en.bin"),
		WhisperLanguage:   envOrDefault("MERITH_WHISPER_LANGUAGE", "en"),
		// 0 means "auto" (picked based on CPU count).
		WhisperThreads:  0,
		TTSEngine:       envOrDefault("MERITH_TTS_ENGINE", "piper"),
		PiperBin:        envOrDefault("MERITH_PIPER_BIN", "piper"),
		VoiceAsset:      envOrDefault("MERITH_VOICE_ASSET", "en_US-amy-medium.onnx"),
		PiperSampleRate: 22050,
		AssetDir:        envOrDefault("MERITH_ASSET_DIR", ".assets"),
		AssetBaseURL:    envOrDefault("MERITH_ASSET_BASE_URL", "https://huggingface.co/rhasspy/piper-voices/resolve/main"),
		PlaybackSink:    envOrDefault("MERITH_PLAYBACK_SINK", "call"),
		PlaybackRate:    48000,

		InferenceTimeout: 15 * time.Second,
		MaxRecording:     15 * time.Second,
		SilenceTimeout:   3 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		SessionTTL:       5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("MERITH_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("MERITH_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.InferenceTimeout, err = durationFromEnv("MERITH_INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRecording, err = durationFromEnv("MERITH_MAX_RECORDING", cfg.MaxRecording)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceTimeout, err = durationFromEnv("MERITH_SILENCE_TIMEOUT", cfg.SilenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("MERITH_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("MERITH_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens, err = intFromEnv("MERITH_MAX_TOKENS", cfg.MaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("MERITH_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackRate, err = intFromEnv("MERITH_PLAYBACK_RATE", cfg.PlaybackRate)
	if err != nil {
		return Config{}, err
	}
	cfg.PiperSampleRate, err = intFromEnv("MERITH_PIPER_SAMPLE_RATE", cfg.PiperSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperThreads, err = intFromEnv("MERITH_WHISPER_THREADS", cfg.WhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSpeechRMS, err = floatFromEnv("MERITH_VAD_SPEECH_RMS", cfg.VADSpeechRMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceRMS, err = floatFromEnv("MERITH_VAD_SILENCE_RMS", cfg.VADSilenceRMS)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.InferenceURL) == "" {
		return Config{}, fmt.Errorf("MERITH_INFERENCE_URL must not be empty")
	}
	if cfg.InferenceTimeout <= 0 {
		return Config{}, fmt.Errorf("MERITH_INFERENCE_TIMEOUT must be positive")
	}
	if cfg.MaxRecording <= 0 {
		return Config{}, fmt.Errorf("MERITH_MAX_RECORDING must be positive")
	}
	if cfg.SilenceTimeout <= 0 || cfg.SilenceTimeout > cfg.MaxRecording {
		return Config{}, fmt.Errorf("MERITH_SILENCE_TIMEOUT must be positive and at most MERITH_MAX_RECORDING")
	}
	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("MERITH_SESSION_TTL must be at least 5s")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("MERITH_SAMPLE_RATE must be positive")
	}
	if cfg.PlaybackRate <= 0 {
		return Config{}, fmt.Errorf("MERITH_PLAYBACK_RATE must be positive")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("MERITH_MAX_TOKENS must be positive")
	}
	if cfg.WhisperThreads < 0 {
		return Config{}, fmt.Errorf("MERITH_WHISPER_THREADS must be >= 0")
	}
	if cfg.VADSilenceRMS <= 0 || cfg.VADSpeechRMS <= cfg.VADSilenceRMS {
		return Config{}, fmt.Errorf("MERITH_VAD_SPEECH_RMS must be greater than MERITH_VAD_SILENCE_RMS (both positive)")
	}
	switch cfg.PlaybackSink {
	case "speaker", "call", "null":
	default:
		return Config{}, fmt.Errorf("MERITH_PLAYBACK_SINK must be one of speaker|call|null")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
