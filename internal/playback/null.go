package playback

import (
	"context"

	"github.com/merithbot/merith/internal/audio"
)

// Null discards clips. Used when the relay runs headless with no voice leg.
type Null struct{}

func (Null) Play(ctx context.Context, clip audio.Clip) error {
	return ctx.Err()
}
