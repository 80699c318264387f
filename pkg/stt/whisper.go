package stt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"hark/pkg/audioconv"
)

// Options tune one whisper.cpp run. Zero values keep the model defaults.
type Options struct {
	// Language is an ISO 639-1 code or "auto".
	Language      string
	Translate     bool
	Threads       int
	BeamSize      int
	InitialPrompt string
}

type Segment struct {
	Text       string
	Start, End time.Duration
}

type Result struct {
	Text     string
	Segments []Segment
	// Language is the detected language, or the forced one.
	Language string
}

// Transcriber runs a local whisper.cpp model.
type Transcriber struct {
	model   whisper.Model
	threads int
}

func NewTranscriber(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: empty model path")
	}

	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	return &Transcriber{model: m}, nil
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// TranscribePCM runs the model over mono 16 kHz samples in [-1, 1].
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	switch {
	case t.model == nil:
		return Result{}, errors.New("whisper: model closed")
	case len(pcm16k) == 0:
		return Result{}, errors.New("whisper: no samples")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}
	if err := t.configure(wctx, opt); err != nil {
		return Result{}, err
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		res   Result
		texts []string
	)
	for ctx.Err() == nil {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}

		res.Segments = append(res.Segments, Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
		texts = append(texts, strings.TrimSpace(seg.Text))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res.Text = strings.Join(texts, " ")
	if res.Language = wctx.DetectedLanguage(); res.Language == "" {
		res.Language = wctx.Language()
	}

	return res, nil
}

func (t *Transcriber) configure(wctx whisper.Context, opt Options) error {
	lang := opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("set language %q: %w", lang, err)
	}
	wctx.SetTranslate(opt.Translate)

	threads := cmp.Or(opt.Threads, t.threads, runtime.NumCPU())
	wctx.SetThreads(uint(threads))

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}

	return nil
}

// SetThreads fixes the number of decoder threads used by Recognize.
func (t *Transcriber) SetThreads(n int) { t.threads = n }

// whisper emits bracketed annotations such as [BLANK_AUDIO] or (music) for
// non-speech input.
var annotationRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// Recognize implements Recognizer.
func (t *Transcriber) Recognize(ctx context.Context, pcm []int16, sampleRate int, lang string) (string, error) {
	x := audioconv.Int16ToFloat32(pcm)
	if sampleRate != audioconv.TargetRate {
		x = audioconv.Resample(x, sampleRate, audioconv.TargetRate)
	}

	if len(x) == 0 {
		return "", ErrUnrecognized
	}

	res, err := t.TranscribePCM(ctx, x, Options{Language: BaseLanguage(lang)})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: whisper: %v", ErrService, err)
	}

	text := strings.Join(strings.Fields(annotationRe.ReplaceAllString(res.Text, " ")), " ")
	if text == "" {
		return "", ErrUnrecognized
	}

	return text, nil
}
