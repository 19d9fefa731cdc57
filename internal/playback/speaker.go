// Package playback delivers synthesized clips to an output: the local
// speaker, the chat platform voice leg, or nowhere.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/merithbot/merith/internal/audio"
)

// Speaker plays clips on the default output device. The oto context is bound
// to one sample rate, so clips at other rates are resampled first.
type Speaker struct {
	ctx  *oto.Context
	rate int
}

func NewSpeaker(sampleRate int) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx, rate: sampleRate}, nil
}

func (s *Speaker) Play(ctx context.Context, clip audio.Clip) error {
	clip = audio.ResampleClip(clip, s.rate)

	player := s.ctx.NewPlayer(bytes.NewReader(clip.PCM))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
