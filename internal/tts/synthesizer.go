// Package tts renders assistant replies to audio.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/merithbot/merith/internal/assets"
	"github.com/merithbot/merith/internal/audio"
)

// ErrSynthesisFailed wraps engine failures.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// Engine is a concrete text-to-speech backend. It returns raw mono PCM16LE
// and the rate it was rendered at.
type Engine interface {
	Synthesize(ctx context.Context, text, voicePath string) (pcm []byte, sampleRate int, err error)
}

type Config struct {
	VoiceAsset string
	OutputRate int
}

// Synthesizer resolves the voice model through the asset cache, sanitizes the
// text for speech, runs the engine and resamples to the playback rate.
type Synthesizer struct {
	engine Engine
	assets *assets.Cache
	cfg    Config
	log    *log.Logger
}

func NewSynthesizer(engine Engine, cache *assets.Cache, cfg Config, logger *log.Logger) *Synthesizer {
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = 48000
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Synthesizer{engine: engine, assets: cache, cfg: cfg, log: logger.With("component", "tts")}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	spoken := SanitizeSpokenText(text)
	if spoken == "" {
		return audio.Clip{}, fmt.Errorf("%w: nothing speakable in reply", ErrSynthesisFailed)
	}

	// Engines without a model file (mock) run with an empty voice asset.
	var voicePath string
	if s.cfg.VoiceAsset != "" {
		p, err := s.assets.Ensure(ctx, s.cfg.VoiceAsset)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("voice asset: %w", err)
		}
		voicePath = p
	}

	pcm, rate, err := s.engine.Synthesize(ctx, spoken, voicePath)
	if err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, ctx.Err()
		}
		return audio.Clip{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, fmt.Errorf("%w: engine produced no audio", ErrSynthesisFailed)
	}

	clip := audio.ResampleClip(audio.Clip{PCM: pcm, SampleRate: rate}, s.cfg.OutputRate)
	s.log.Debug("synthesized reply", "chars", len(spoken), "duration", clip.Duration())
	return clip, nil
}
