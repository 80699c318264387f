// Package tts synthesises speech: locally through espeak-ng, or in the cloud
// into an audio file for later playback.
package tts

import (
	"context"
	"strings"
)

// Engine speaks text on the local output device. Speak blocks until the
// utterance is done; cancelling ctx or calling Stop cuts it short.
type Engine interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Renderer synthesises text into an audio file and returns its path. The
// caller owns the file.
type Renderer interface {
	Render(ctx context.Context, text, lang string) (string, error)
}

type Gender int

const (
	Male   Gender = 1
	Female Gender = 2
)

// ParseGender accepts "male" or "female"; anything else is Male.
func ParseGender(s string) Gender {
	if strings.EqualFold(strings.TrimSpace(s), "female") {
		return Female
	}
	return Male
}

func (g Gender) String() string {
	if g == Female {
		return "female"
	}
	return "male"
}
