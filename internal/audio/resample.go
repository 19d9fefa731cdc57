package audio

import "encoding/binary"

// ResamplePCM16 converts mono PCM16LE audio between sample rates using linear
// interpolation. Good enough for speech; the rates in play here are 16 kHz
// capture, 22.05 kHz synthesis output and 48 kHz playback.
func ResamplePCM16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(pcm) < 2 {
		return pcm
	}
	in := make([]int16, len(pcm)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(in)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		v := float64(s0) + (float64(s1)-float64(s0))*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// ResampleClip returns the clip converted to toRate.
func ResampleClip(c Clip, toRate int) Clip {
	if c.SampleRate == toRate {
		return c
	}
	return Clip{PCM: ResamplePCM16(c.PCM, c.SampleRate, toRate), SampleRate: toRate}
}
