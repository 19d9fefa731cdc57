// Package stt turns captured utterances into text.
package stt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/merithbot/merith/internal/audio"
)

var (
	// ErrNoSpeech means the clip produced no usable transcript.
	ErrNoSpeech = errors.New("no speech in transcript")
	// ErrTranscriptionFailed wraps engine failures.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Engine is a concrete speech-to-text backend. The clip is mono PCM16 at the
// capture rate.
type Engine interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// Transcriber wraps an Engine with transcript normalization: whisper-style
// non-speech markers are stripped and whitespace collapsed, and an empty
// result is reported as ErrNoSpeech rather than an empty string.
type Transcriber struct {
	engine Engine
	log    *log.Logger
}

func NewTranscriber(engine Engine, logger *log.Logger) *Transcriber {
	if logger == nil {
		logger = log.Default()
	}
	return &Transcriber{engine: engine, log: logger.With("component", "stt")}
}

func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	raw, err := t.engine.Transcribe(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := NormalizeTranscript(raw)
	if text == "" {
		return "", ErrNoSpeech
	}
	t.log.Debug("transcript", "text", text)
	return text, nil
}

var nonSpeechMarkerPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// NormalizeTranscript strips whisper non-speech annotations like
// [BLANK_AUDIO], (music) or *coughs* and collapses whitespace.
func NormalizeTranscript(raw string) string {
	cleaned := nonSpeechMarkerPattern.ReplaceAllString(raw, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
