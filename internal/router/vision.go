package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	openai "github.com/openai/openai-go/v3"

	"hark/internal/config"
	"hark/internal/i18n"
)

// ErrCameraUnavailable wraps a failed snapshot.
var ErrCameraUnavailable = errors.New("router: camera unavailable")

const visionPrompt = `You are the eyes of a voice assistant.
Describe what you see in the image in a natural, conversational way, or
answer the user's question about it. Focus on the main elements and
interesting details. Your answer is spoken aloud: two or three short
sentences, no markdown.`

var visionTriggers = []string{
	"what do you see",
	"what can you see",
	"describe what you see",
	"look at this",
	"analyze the image",
	"analyse the image",
	"analyze this",
	"what is in front of me",
	"what's in front of me",
}

// Snapshot returns one encoded image.
type Snapshot func(ctx context.Context) ([]byte, error)

// CommandSnapshot runs argv and takes its stdout as the image.
func CommandSnapshot(argv []string) Snapshot {
	argv = slices.Clone(argv)
	return func(ctx context.Context) ([]byte, error) {
		if len(argv) == 0 {
			return nil, errors.New("no snapshot command")
		}
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
		}
		return out, nil
	}
}

// FileSnapshot reads the image at path.
func FileSnapshot(path string) Snapshot {
	return func(context.Context) ([]byte, error) {
		return os.ReadFile(path)
	}
}

// SnapshotFromSettings prefers a fixed image over the camera command.
func SnapshotFromSettings(cfg config.CameraSettings) Snapshot {
	if cfg.Image != "" {
		return FileSnapshot(cfg.Image)
	}
	return CommandSnapshot(cfg.Snapshot)
}

// Vision answers "what do you see" with a camera frame and the language
// model.
type Vision struct {
	client   *openai.Client
	model    string
	snapshot Snapshot
	tr       *i18n.Translator
	logger   *slog.Logger

	mu       sync.Mutex
	reported bool
}

func NewVision(client *openai.Client, model string, snapshot Snapshot, tr *i18n.Translator, logger *slog.Logger) *Vision {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vision{
		client:   client,
		model:    model,
		snapshot: snapshot,
		tr:       tr,
		logger:   logger,
	}
}

func (v *Vision) Name() string { return "vision" }

func (v *Vision) Handle(ctx context.Context, text string) (string, bool, error) {
	norm := Normalize(text)
	if !slices.ContainsFunc(visionTriggers, func(t string) bool {
		return strings.Contains(" "+norm+" ", " "+Normalize(t)+" ")
	}) {
		return "", false, nil
	}

	if v.client == nil {
		return v.tr.T("llm_unconfigured"), true, nil
	}

	img, err := v.snapshot(ctx)
	if err == nil && len(img) == 0 {
		err = errors.New("empty frame")
	}
	if err != nil {
		if v.markUnavailable() {
			v.logger.Warn("Camera unavailable", "err", err)
		}
		return v.tr.T("camera_unavailable"), true, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	v.markAvailable()

	mime := http.DetectContentType(img)
	if !strings.HasPrefix(mime, "image/") {
		return v.tr.T("vision_failed"), true, fmt.Errorf("snapshot is %s, not an image", mime)
	}

	url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
	content, err := ask(ctx, v.client, v.model,
		openai.SystemMessage(visionPrompt),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(text),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    url,
				Detail: "low",
			}),
		}),
	)
	switch {
	case errors.Is(err, errEmptyReply):
		return v.tr.T("empty_response"), true, nil
	case err != nil:
		return v.tr.T("vision_failed"), true, err
	}

	v.logger.Debug("Processed", "data", content)
	return content, true, nil
}

// markUnavailable reports whether this is the first failure since the
// camera last worked.
func (v *Vision) markUnavailable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	first := !v.reported
	v.reported = true
	return first
}

func (v *Vision) markAvailable() {
	v.mu.Lock()
	v.reported = false
	v.mu.Unlock()
}
