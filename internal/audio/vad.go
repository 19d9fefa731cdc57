package audio

import "math"

// VADConfig tunes the hysteresis voice activity detector. Entering speech
// requires SpeechFrames consecutive frames above SpeechRMS; leaving speech
// requires SilenceFrames consecutive frames below SilenceRMS. The gap between
// the two thresholds keeps the detector from flapping on breath noise.
type VADConfig struct {
	SpeechRMS     float64
	SilenceRMS    float64
	SpeechFrames  int
	SilenceFrames int
}

func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechRMS:     0.015,
		SilenceRMS:    0.008,
		SpeechFrames:  2,
		SilenceFrames: 3,
	}
}

type VAD struct {
	cfg        VADConfig
	inSpeech   bool
	speechRun  int
	silenceRun int
}

func NewVAD(cfg VADConfig) *VAD {
	if cfg.SpeechFrames <= 0 {
		cfg.SpeechFrames = 1
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = 1
	}
	return &VAD{cfg: cfg}
}

// Feed consumes one frame and reports whether the detector considers the
// stream to be inside speech after it.
func (v *VAD) Feed(frame []float32) bool {
	rms := RMS(frame)
	if v.inSpeech {
		if rms < v.cfg.SilenceRMS {
			v.silenceRun++
			if v.silenceRun >= v.cfg.SilenceFrames {
				v.inSpeech = false
				v.speechRun = 0
			}
		} else {
			v.silenceRun = 0
		}
		return v.inSpeech
	}
	if rms > v.cfg.SpeechRMS {
		v.speechRun++
		if v.speechRun >= v.cfg.SpeechFrames {
			v.inSpeech = true
			v.silenceRun = 0
		}
	} else {
		v.speechRun = 0
	}
	return v.inSpeech
}

func (v *VAD) InSpeech() bool { return v.inSpeech }

func (v *VAD) Reset() {
	v.inSpeech = false
	v.speechRun = 0
	v.silenceRun = 0
}

// RMS computes root mean square energy of a float32 frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
