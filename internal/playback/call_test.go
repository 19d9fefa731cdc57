package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/merithbot/merith/internal/audio"
)

type fakeEncoder struct {
	frames [][]int16
	err    error
}

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	f.frames = append(f.frames, cp)
	data[0] = byte(len(f.frames))
	return 1, nil
}

type collectWriter struct {
	frames [][]byte
	err    error
}

func (w *collectWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, frame)
	return nil
}

func clipOfSamples(n, rate int) audio.Clip {
	return audio.Clip{PCM: make([]byte, n*2), SampleRate: rate}
}

func TestCallChunksInto20msFrames(t *testing.T) {
	enc := &fakeEncoder{}
	out := &collectWriter{}
	c := &Call{enc: enc, out: out}

	// 2.5 frames of audio pads up to 3 frames.
	if err := c.Play(context.Background(), clipOfSamples(2400, 48000)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(out.frames) != 3 {
		t.Fatalf("frames written = %d, want 3", len(out.frames))
	}
	for i, f := range enc.frames {
		if len(f) != callFrameSamples {
			t.Fatalf("encoder frame %d has %d samples, want %d", i, len(f), callFrameSamples)
		}
	}
}

func TestCallResamplesBeforeEncoding(t *testing.T) {
	enc := &fakeEncoder{}
	out := &collectWriter{}
	c := &Call{enc: enc, out: out}

	// One second at 22050 becomes one second at 48000: 50 frames.
	if err := c.Play(context.Background(), clipOfSamples(22050, 22050)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(out.frames) != 50 {
		t.Fatalf("frames written = %d, want 50", len(out.frames))
	}
}

func TestCallStopsOnWriterError(t *testing.T) {
	enc := &fakeEncoder{}
	out := &collectWriter{err: errors.New("bridge gone")}
	c := &Call{enc: enc, out: out}

	if err := c.Play(context.Background(), clipOfSamples(960, 48000)); err == nil {
		t.Fatalf("Play succeeded despite writer error")
	}
}

func TestCallHonorsContext(t *testing.T) {
	enc := &fakeEncoder{}
	out := &collectWriter{}
	c := &Call{enc: enc, out: out}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Play(ctx, clipOfSamples(9600, 48000)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Play error = %v, want context.Canceled", err)
	}
}
