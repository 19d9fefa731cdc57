package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStream struct {
	frames    [][]float32
	pos       int
	closed    atomic.Bool
	readDelay time.Duration
	onClose   func()
}

func (s *fakeStream) Read(buf []float32) error {
	if s.readDelay > 0 {
		time.Sleep(s.readDelay)
	}
	var frame []float32
	if s.pos < len(s.frames) {
		frame = s.frames[s.pos]
		s.pos++
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, frame)
	return nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	onOpen  func()
}

func (d *fakeDevice) Open(sampleRate, frameSize int) (Stream, error) {
	if d.onOpen != nil {
		d.onOpen()
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

func frameOf(level float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = level
	}
	return f
}

func testCaptureConfig() CaptureConfig {
	// 10 samples per frame at 100 Hz keeps the math easy: one frame is 100ms.
	return CaptureConfig{
		SampleRate:     100,
		FrameSize:      10,
		MaxDuration:    time.Second,
		SilenceTimeout: 300 * time.Millisecond,
		VAD:            VADConfig{SpeechRMS: 0.015, SilenceRMS: 0.008, SpeechFrames: 1, SilenceFrames: 1},
	}
}

func TestCaptureSilenceOnlyReturnsNoSpeech(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{}}
	c := NewCapturer(dev, testCaptureConfig(), nil, nil)

	_, err := c.Capture(context.Background())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("Capture() error = %v, want ErrNoSpeech", err)
	}
	if !dev.stream.closed.Load() {
		t.Fatalf("stream not released after no-speech capture")
	}
}

func TestCaptureStopsAfterTrailingSilence(t *testing.T) {
	frames := [][]float32{
		frameOf(0, 10),
		frameOf(0.5, 10),
		frameOf(0.5, 10),
		// Everything past here reads as silence; capture should stop after
		// three silent frames (300ms at the test rate), well before MaxDuration.
	}
	dev := &fakeDevice{stream: &fakeStream{frames: frames}}
	c := NewCapturer(dev, testCaptureConfig(), nil, nil)

	clip, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if clip.SampleRate != 100 {
		t.Fatalf("clip sample rate = %d, want 100", clip.SampleRate)
	}
	// 3 read frames plus 3 trailing silence frames, 10 samples each.
	if got := clip.Samples(); got != 60 {
		t.Fatalf("clip samples = %d, want 60", got)
	}
	if !dev.stream.closed.Load() {
		t.Fatalf("stream not released after capture")
	}
}

func TestCaptureOpenFailureIsDeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("mic busy")}
	c := NewCapturer(dev, testCaptureConfig(), nil, nil)

	_, err := c.Capture(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Capture() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestCaptureCancelReleasesStream(t *testing.T) {
	dev := &fakeDevice{stream: &fakeStream{readDelay: 5 * time.Millisecond}}
	c := NewCapturer(dev, testCaptureConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Capture(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Capture() error = %v, want context.Canceled", err)
	}
	if !dev.stream.closed.Load() {
		t.Fatalf("stream not released after cancel")
	}
}

func TestCaptureSerializesOnSharedGate(t *testing.T) {
	gate := NewGate()
	var holders atomic.Int32
	var overlapped atomic.Bool

	// The gate is held from Open through Close, so tracking holders at
	// those two points detects any concurrent microphone access.
	mkCapturer := func() *Capturer {
		stream := &fakeStream{
			frames:    [][]float32{frameOf(0.5, 10)},
			readDelay: 2 * time.Millisecond,
		}
		stream.onClose = func() { holders.Add(-1) }
		dev := &fakeDevice{stream: stream}
		dev.onOpen = func() {
			if holders.Add(1) > 1 {
				overlapped.Store(true)
			}
		}
		return NewCapturer(dev, testCaptureConfig(), gate, nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		c := mkCapturer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Capture(context.Background()); err != nil {
				t.Errorf("Capture() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Fatalf("two captures held the microphone at once")
	}
}

func TestGateTryAcquire(t *testing.T) {
	g := NewGate()
	if !g.TryAcquire() {
		t.Fatalf("TryAcquire on free gate failed")
	}
	if g.TryAcquire() {
		t.Fatalf("TryAcquire succeeded on held gate")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatalf("TryAcquire after release failed")
	}
	g.Release()
}

func TestGateAcquireHonorsContext(t *testing.T) {
	g := NewGate()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire on held gate = %v, want deadline exceeded", err)
	}
	g.Release()
}
