package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Initialize sets up the host audio API. Call once at process start and pair
// with Terminate on shutdown.
func Initialize() error {
	return portaudio.Initialize()
}

func Terminate() error {
	return portaudio.Terminate()
}

// PortAudioDevice opens the default input device.
type PortAudioDevice struct{}

func (PortAudioDevice) Open(sampleRate, frameSize int) (Stream, error) {
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32
}

func (s *portAudioStream) Read(out []float32) error {
	if err := s.stream.Read(); err != nil {
		return err
	}
	copy(out, s.buf)
	return nil
}

func (s *portAudioStream) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}
