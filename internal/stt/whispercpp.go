package stt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/merithbot/merith/internal/assets"
	"github.com/merithbot/merith/internal/audio"
)

// WhisperCLIConfig configures the whisper.cpp command line engine.
type WhisperCLIConfig struct {
	Bin        string
	ModelAsset string
	Language   string
	Threads    int
}

// WhisperCLI shells out to whisper-cli for each utterance. The model file is
// resolved through the asset cache on every call, so the first turn after a
// cold start pays the download and later turns hit the local file.
type WhisperCLI struct {
	cfg    WhisperCLIConfig
	assets *assets.Cache
}

func NewWhisperCLI(cfg WhisperCLIConfig, cache *assets.Cache) (*WhisperCLI, error) {
	if strings.TrimSpace(cfg.Bin) == "" {
		return nil, fmt.Errorf("whisper-cli binary not configured")
	}
	if _, err := exec.LookPath(cfg.Bin); err != nil {
		return nil, fmt.Errorf("whisper-cli not found: %w", err)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU() / 2
		if cfg.Threads < 1 {
			cfg.Threads = 1
		}
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &WhisperCLI{cfg: cfg, assets: cache}, nil
}

func (w *WhisperCLI) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	modelPath, err := w.assets.Ensure(ctx, w.cfg.ModelAsset)
	if err != nil {
		return "", fmt.Errorf("whisper model: %w", err)
	}

	dir, err := os.MkdirTemp("", "merith-whisper-*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "utterance.wav")
	if err := audio.WriteWAVPCM16LEFile(wavPath, clip.PCM, clip.SampleRate); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}

	outPrefix := filepath.Join(dir, "utterance")
	args := []string{
		"-m", modelPath,
		"-f", wavPath,
		"-l", w.cfg.Language,
		"-t", strconv.Itoa(w.cfg.Threads),
		"-otxt",
		"-of", outPrefix,
		"-nt",
	}

	cmd := exec.CommandContext(ctx, w.cfg.Bin, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("whisper-cli: %v: %s", err, tail(out, 400))
	}

	txt, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(txt), nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
