package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"hark/pkg/audioconv"
)

// OpenAI transcribes through the OpenAI audio transcription endpoint.
type OpenAI struct {
	client openai.Client
	model  openai.AudioModel
}

func NewOpenAI(client openai.Client, model string) *OpenAI {
	m := openai.AudioModelWhisper1
	if model != "" {
		m = openai.AudioModel(model)
	}
	return &OpenAI{client: client, model: m}
}

func (o *OpenAI) Recognize(ctx context.Context, pcm []int16, sampleRate int, lang string) (string, error) {
	if len(pcm) == 0 {
		return "", ErrUnrecognized
	}

	wav, err := audioconv.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrService, err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "command.wav", "audio/wav"),
		Model: o.model,
	}
	if base := BaseLanguage(lang); base != "" {
		params.Language = openai.String(base)
	}

	res, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: transcription: %v", ErrService, err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", ErrUnrecognized
	}

	return text, nil
}
