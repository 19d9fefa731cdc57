package voice

import (
	"errors"

	"github.com/merithbot/merith/internal/assets"
	"github.com/merithbot/merith/internal/audio"
	"github.com/merithbot/merith/internal/brain"
	"github.com/merithbot/merith/internal/stt"
	"github.com/merithbot/merith/internal/tts"
)

// Error codes reported to the bridge and in metrics.
const (
	CodeDeviceUnavailable   = "device_unavailable"
	CodeNoSpeech            = "no_speech"
	CodeTranscriptionFailed = "transcription_failed"
	CodeEndpointUnreachable = "endpoint_unreachable"
	CodeEndpointTimeout     = "endpoint_timeout"
	CodeMalformedResponse   = "malformed_response"
	CodeAssetDownloadFailed = "asset_download_failed"
	CodeSynthesisFailed     = "synthesis_failed"
	CodeInternal            = "internal"
)

// Fallback describes how a failed turn is surfaced to the user: an error
// code for the bridge, an optional canned reply, and whether that reply
// should also be spoken.
type Fallback struct {
	Code  string
	Text  string
	Speak bool
}

// FallbackFor maps a pipeline error onto the fallback policy. It is a pure
// function of the error kind: same kind in, same fallback out.
func FallbackFor(err error) Fallback {
	switch {
	case errors.Is(err, audio.ErrNoSpeech), errors.Is(err, stt.ErrNoSpeech):
		// Not an error turn; the user simply said nothing.
		return Fallback{Code: CodeNoSpeech}
	case errors.Is(err, audio.ErrDeviceUnavailable):
		// No microphone also usually means no point talking back.
		return Fallback{Code: CodeDeviceUnavailable}
	case errors.Is(err, stt.ErrTranscriptionFailed):
		return Fallback{Code: CodeTranscriptionFailed, Text: "Sorry, I didn't catch that.", Speak: true}
	case errors.Is(err, brain.ErrEndpointTimeout):
		return Fallback{Code: CodeEndpointTimeout, Text: "Sorry, that took me too long to think about.", Speak: true}
	case errors.Is(err, brain.ErrEndpointUnreachable):
		return Fallback{Code: CodeEndpointUnreachable, Text: "Sorry, I can't reach my brain right now.", Speak: true}
	case errors.Is(err, brain.ErrMalformedResponse):
		return Fallback{Code: CodeMalformedResponse, Text: "Sorry, I got a little confused. Could you try again?", Speak: true}
	case errors.Is(err, assets.ErrDownloadFailed):
		// The voice model is missing, so a spoken apology cannot render.
		return Fallback{Code: CodeAssetDownloadFailed}
	case errors.Is(err, tts.ErrSynthesisFailed):
		return Fallback{Code: CodeSynthesisFailed}
	default:
		return Fallback{Code: CodeInternal, Text: "Sorry, something went wrong on my end.", Speak: true}
	}
}
