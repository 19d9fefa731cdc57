package stt

import (
	"context"
	"time"

	"github.com/merithbot/merith/internal/audio"
)

// MockEngine is a local fallback engine used when whisper-cli is not
// installed. It reports a canned transcript for any clip with audible
// content so the rest of the pipeline can be exercised.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (MockEngine) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// Pretend recognition takes a moment.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if clip.Samples() == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}
