// Package stt turns recorded speech into text.
package stt

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnrecognized means the audio was processed but no words came out.
	ErrUnrecognized = errors.New("stt: speech not recognized")

	// ErrService means the recogniser itself failed (network, API, engine).
	ErrService = errors.New("stt: service error")
)

// Recognizer transcribes mono 16-bit PCM in the given BCP 47 language
// ("en-US", "ar-SA").
type Recognizer interface {
	Recognize(ctx context.Context, pcm []int16, sampleRate int, lang string) (string, error)
}

// BaseLanguage returns the ISO 639-1 part of a language tag: "en-US" -> "en".
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// Bilingual runs rec in primary and, only when the primary attempt yields
// ErrUnrecognized, once more in secondary. Service errors are returned as is.
func Bilingual(ctx context.Context, rec Recognizer, pcm []int16, sampleRate int, primary, secondary string) (string, error) {
	text, err := rec.Recognize(ctx, pcm, sampleRate, primary)
	if err == nil || secondary == "" || !errors.Is(err, ErrUnrecognized) {
		return text, err
	}

	return rec.Recognize(ctx, pcm, sampleRate, secondary)
}
