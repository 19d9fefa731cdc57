package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrDeviceUnavailable means the input device could not be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrNoSpeech means the capture window contained no detected speech.
	ErrNoSpeech = errors.New("no speech detected")
)

// Device opens input streams. The portaudio implementation lives in
// portaudio.go; tests substitute fakes.
type Device interface {
	Open(sampleRate, frameSize int) (Stream, error)
}

// Stream delivers mono float32 frames. Read blocks until buf is filled.
type Stream interface {
	Read(buf []float32) error
	Close() error
}

// Gate serializes access to a resource that cannot be shared, in practice the
// single microphone. Acquire blocks until the gate is free or ctx ends.
type Gate struct {
	ch chan struct{}
}

func NewGate() *Gate {
	return &Gate{ch: make(chan struct{}, 1)}
}

func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	<-g.ch
}

// TryAcquire reports whether the gate was free and grabs it if so.
func (g *Gate) TryAcquire() bool {
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

type CaptureConfig struct {
	SampleRate     int
	FrameSize      int
	MaxDuration    time.Duration
	SilenceTimeout time.Duration
	VAD            VADConfig
}

// Capturer records one utterance at a time from a Device. Recording stops
// once trailing silence after detected speech reaches SilenceTimeout, or at
// MaxDuration regardless. A window with no speech at all yields ErrNoSpeech.
type Capturer struct {
	dev  Device
	cfg  CaptureConfig
	gate *Gate
	log  *log.Logger
}

func NewCapturer(dev Device, cfg CaptureConfig, gate *Gate, logger *log.Logger) *Capturer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 1024
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 15 * time.Second
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 3 * time.Second
	}
	if gate == nil {
		gate = NewGate()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Capturer{dev: dev, cfg: cfg, gate: gate, log: logger.With("component", "capture")}
}

// Capture records a single utterance and returns it as a 16-bit clip at the
// configured sample rate. The device is held for the duration of the call and
// released on every exit path.
func (c *Capturer) Capture(ctx context.Context) (Clip, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return Clip{}, err
	}
	defer c.gate.Release()

	stream, err := c.dev.Open(c.cfg.SampleRate, c.cfg.FrameSize)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer stream.Close()

	frameDur := time.Duration(c.cfg.FrameSize) * time.Second / time.Duration(c.cfg.SampleRate)
	maxFrames := int(c.cfg.MaxDuration / frameDur)
	if maxFrames < 1 {
		maxFrames = 1
	}
	silenceFrames := int(c.cfg.SilenceTimeout / frameDur)
	if silenceFrames < 1 {
		silenceFrames = 1
	}

	vad := NewVAD(c.cfg.VAD)
	buf := make([]float32, c.cfg.FrameSize)
	var samples []float32
	speechSeen := false
	trailingSilence := 0

	for frame := 0; frame < maxFrames; frame++ {
		if err := ctx.Err(); err != nil {
			return Clip{}, err
		}
		if err := stream.Read(buf); err != nil {
			if ctx.Err() != nil {
				return Clip{}, ctx.Err()
			}
			return Clip{}, fmt.Errorf("%w: read: %v", ErrDeviceUnavailable, err)
		}
		samples = append(samples, buf...)

		if vad.Feed(buf) {
			speechSeen = true
			trailingSilence = 0
			continue
		}
		if speechSeen {
			trailingSilence++
			if trailingSilence >= silenceFrames {
				break
			}
		}
	}

	if !speechSeen {
		return Clip{}, ErrNoSpeech
	}

	clip := Clip{PCM: FloatsToPCM16(samples), SampleRate: c.cfg.SampleRate}
	c.log.Debug("captured utterance", "duration", clip.Duration(), "samples", clip.Samples())
	return clip, nil
}
