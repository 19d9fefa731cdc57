package tts

import (
	"context"
	"math"
	"time"
)

// MockEngine is a local fallback engine used when piper is not installed. It
// renders a short sine beep per request so playback can be exercised without
// a voice model.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (MockEngine) Synthesize(ctx context.Context, text, _ string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	const rate = 22050
	// Roughly 60ms per word, 200ms floor.
	words := len([]rune(text))/5 + 1
	dur := 200*time.Millisecond + time.Duration(words)*60*time.Millisecond
	n := int(float64(rate) * dur.Seconds())

	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	return pcm, rate, nil
}
