// Package notify tells the user what the assistant is doing outside of
// speech: a chime on wake-up and desktop notifications.
package notify

import (
	"context"
	"log/slog"
	"os"
)

// Player plays a sound file to the end.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Chime plays a short sound when the assistant starts listening.
type Chime struct {
	player Player
	path   string
	logger *slog.Logger
}

// NewChime returns a chime for the file at path. An empty path or a missing
// file gives a silent chime.
func NewChime(player Player, path string, logger *slog.Logger) *Chime {
	if logger == nil {
		logger = slog.Default()
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			logger.Warn("Chime disabled", "path", path, "err", err)
			path = ""
		}
	}
	return &Chime{player: player, path: path, logger: logger}
}

// Play blocks until the chime ends. Failures are logged, never returned.
func (c *Chime) Play(ctx context.Context) {
	if c == nil || c.path == "" || c.player == nil {
		return
	}
	if err := c.player.Play(ctx, c.path); err != nil && ctx.Err() == nil {
		c.logger.Debug("Failed to play chime", "path", c.path, "err", err)
	}
}
