package playback

import (
	"context"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/merithbot/merith/internal/audio"
)

const (
	callSampleRate = 48000
	// 20ms frames, the standard packet size for voice channels.
	callFrameSamples = 960
	maxOpusFrame     = 4000
)

// FrameWriter receives encoded frames; the websocket bridge implements it to
// forward audio to the chat platform voice connection.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Call encodes clips as 48 kHz mono Opus and streams 20ms frames to a
// FrameWriter.
type Call struct {
	enc frameEncoder
	out FrameWriter
}

func NewCall(out FrameWriter) (*Call, error) {
	enc, err := opus.NewEncoder(callSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &Call{enc: enc, out: out}, nil
}

func (c *Call) Play(ctx context.Context, clip audio.Clip) error {
	clip = audio.ResampleClip(clip, callSampleRate)
	samples := audio.PCM16ToInt16(clip.PCM)

	buf := make([]byte, maxOpusFrame)
	frame := make([]int16, callFrameSamples)
	for off := 0; off < len(samples); off += callFrameSamples {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range frame {
			frame[i] = 0
		}
		copy(frame, samples[off:])

		n, err := c.enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		encoded := make([]byte, n)
		copy(encoded, buf[:n])
		if err := c.out.WriteFrame(ctx, encoded); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}
