package tts

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

// OpenAIRenderer renders speech to mp3 files with the OpenAI speech endpoint.
type OpenAIRenderer struct {
	client openai.Client
	model  openai.SpeechModel
	voice  openai.AudioSpeechNewParamsVoice
	dir    string
}

// NewOpenAIRenderer writes files into dir, or the system temp dir when dir
// is empty.
func NewOpenAIRenderer(client openai.Client, model string, gender Gender, dir string) *OpenAIRenderer {
	m := openai.SpeechModelTTS1
	if model != "" {
		m = openai.SpeechModel(model)
	}

	voice := openai.AudioSpeechNewParamsVoiceEcho
	if gender == Female {
		voice = openai.AudioSpeechNewParamsVoiceShimmer
	}

	return &OpenAIRenderer{client: client, model: m, voice: voice, dir: dir}
}

// Render ignores lang: the model picks pronunciation from the text itself.
func (r *OpenAIRenderer) Render(ctx context.Context, text, _ string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("render: empty text")
	}

	res, err := r.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          r.model,
		Input:          text,
		Voice:          r.voice,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return "", fmt.Errorf("speech: %w", err)
	}
	defer res.Body.Close()

	f, err := os.CreateTemp(r.dir, "hark-*.mp3")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}

	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", f.Name(), err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}
