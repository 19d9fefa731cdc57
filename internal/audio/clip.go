package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Clip is a mono PCM16LE buffer tagged with its sample rate.
type Clip struct {
	PCM        []byte
	SampleRate int
}

func (c Clip) Samples() int {
	return len(c.PCM) / 2
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Samples()) / float64(c.SampleRate) * float64(time.Second))
}

// FloatsToPCM16 converts [-1,1] float32 samples to little-endian int16 bytes.
func FloatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToInt16 reinterprets little-endian int16 bytes as a sample slice.
func PCM16ToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToPCM16 is the inverse of PCM16ToInt16.
func Int16ToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
