package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PiperConfig configures the piper command line engine.
type PiperConfig struct {
	Bin string
	// NativeRate is the rate piper renders at for the configured voice.
	// Medium-quality rhasspy voices are 22050 Hz.
	NativeRate int
}

// Piper runs one piper process per request and collects raw PCM16 from
// stdout. Voices are onnx files resolved by the caller.
type Piper struct {
	cfg PiperConfig
}

func NewPiper(cfg PiperConfig) (*Piper, error) {
	if strings.TrimSpace(cfg.Bin) == "" {
		return nil, fmt.Errorf("piper binary not configured")
	}
	if _, err := exec.LookPath(cfg.Bin); err != nil {
		return nil, fmt.Errorf("piper not found: %w", err)
	}
	if cfg.NativeRate <= 0 {
		cfg.NativeRate = 22050
	}
	return &Piper{cfg: cfg}, nil
}

func (p *Piper) Synthesize(ctx context.Context, text, voicePath string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, p.cfg.Bin,
		"--model", voicePath,
		"--output-raw",
	)
	cmd.Stdin = strings.NewReader(text + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("piper: %v: %s", err, lastLine(stderr.String()))
	}

	pcm := stdout.Bytes()
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, p.cfg.NativeRate, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
