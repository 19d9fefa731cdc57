package playback

import (
	"context"
	"encoding/base64"

	"github.com/merithbot/merith/internal/protocol"
)

// BridgeWriter forwards encoded frames to the session's websocket outbound
// queue as assistant_audio_chunk events. The bridge on the other end feeds
// them into the voice connection.
type BridgeWriter struct {
	sessionID string
	out       chan<- any
	seq       int
}

func NewBridgeWriter(sessionID string, out chan<- any) *BridgeWriter {
	return &BridgeWriter{sessionID: sessionID, out: out}
}

// WriteFrame blocks until the frame is queued or ctx ends. Audio frames are
// never dropped here; skipping one would glitch playback on the far side.
func (w *BridgeWriter) WriteFrame(ctx context.Context, frame []byte) error {
	w.seq++
	chunk := protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   w.sessionID,
		Seq:         w.seq,
		Format:      "opus_48000",
		AudioBase64: base64.StdEncoding.EncodeToString(frame),
	}
	select {
	case w.out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
