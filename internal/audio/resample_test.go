package audio

import (
	"testing"
	"time"
)

func constClip(value int16, samples, rate int) Clip {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return Clip{PCM: Int16ToPCM16(s), SampleRate: rate}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := constClip(1000, 100, 16000)
	out := ResampleClip(in, 16000)
	if len(out.PCM) != len(in.PCM) {
		t.Fatalf("length changed on identity resample: %d -> %d", len(in.PCM), len(out.PCM))
	}
}

func TestResampleUpDoublesLength(t *testing.T) {
	in := constClip(1000, 240, 24000)
	out := ResampleClip(in, 48000)
	if out.SampleRate != 48000 {
		t.Fatalf("sample rate = %d, want 48000", out.SampleRate)
	}
	if got := out.Samples(); got != 480 {
		t.Fatalf("samples = %d, want 480", got)
	}
	for _, s := range PCM16ToInt16(out.PCM) {
		if s != 1000 {
			t.Fatalf("constant signal distorted: got %d", s)
		}
	}
}

func TestResampleDownPreservesDuration(t *testing.T) {
	in := constClip(500, 22050, 22050)
	out := ResampleClip(in, 16000)
	if got, want := out.Duration(), time.Second; got < want-10*time.Millisecond || got > want+10*time.Millisecond {
		t.Fatalf("duration = %v, want ~%v", got, want)
	}
}

func TestFloatPCMRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 2, -2}
	pcm := FloatsToPCM16(in)
	got := PCM16ToInt16(pcm)
	want := []int16{0, 16384, -16384, 32767, -32767, 32767, -32767}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}
