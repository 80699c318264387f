package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"hark/internal/audio"
	"hark/internal/capture"
	"hark/internal/config"
	"hark/internal/hub"
	"hark/internal/notify"
	"hark/internal/proxy"
	"hark/internal/router"
	"hark/internal/session"
	"hark/internal/speech"
	"hark/internal/tts"
	"hark/internal/vad"
	"hark/internal/wake"
	"hark/pkg/protocol"
	"hark/pkg/stt"
)

// AppName is how the daemon shows up in notifications and in the sound
// server's stream list.
const AppName = "hark"

const dialTimeout = 5 * time.Second

// Build is the production Builder: microphone, Porcupine, WebRTC VAD,
// OpenAI or whisper.cpp recognition, espeak-ng and cloud voices, the device
// link and the bus.
func Build(ctx context.Context, s *config.Settings, env Env) (_ *Components, err error) {
	comp := &Components{
		Mode:        capture.ParseMode(s.Language),
		Timeout:     s.Capture.Timeout,
		PhraseLimit: s.Capture.PhraseLimit,
	}

	// Release whatever was opened if a later step fails.
	defer func() {
		if err != nil {
			comp.close()
		}
	}()

	client, err := NewOpenAIClient(s)
	if err != nil {
		return nil, err
	}

	mic := audio.NewMic()
	if err := mic.Init(); err != nil {
		env.Logger.Error("Failed to init audio", "err", err)
	}
	comp.Closers = append(comp.Closers, mic.Close)
	comp.Source = mic

	spotter, err := wake.NewPorcupine(s.Wake.AccessKey, s.Wake.Sensitivity)
	if err != nil {
		env.Logger.Warn("Wake word unavailable, listening continuously", "err", err)
		env.Session.Post(session.LevelStatus, env.Display.T("wake_unavailable"))
	} else {
		comp.Spotter = spotter
		comp.Closers = append(comp.Closers, spotter.Close)
	}

	classifier, verr := vad.NewClassifier(s.VAD.Aggressiveness)
	if verr != nil {
		env.Logger.Warn("WebRTC VAD unavailable, using energy detection", "err", verr)
		env.Session.Post(session.LevelStatus, env.Display.T("noise_reduction_off"))
	}

	rec, err := NewRecognizer(s, client)
	if err != nil {
		return nil, err
	}
	if c, ok := rec.(interface{ Close() error }); ok {
		comp.Closers = append(comp.Closers, c.Close)
	}

	comp.Capturer = capture.New(capture.Config{
		Source:     mic,
		Recognizer: rec,
		Classifier: classifier,
		SampleRate: vad.DefaultSampleRate,
		FrameMs:    s.VAD.FrameMs,
		OnError: func(err error) {
			env.Logger.Debug("Frame skipped", "err", err)
			env.Session.Post(session.LevelStatus, err.Error())
		},
		Metrics: env.Metrics,
		Logger:  env.Logger,
	})

	gender := tts.ParseGender(s.VoiceGender)
	voiceLang := s.Language
	if comp.Mode.IsBilingual() {
		voiceLang = comp.Mode.Primary
	}

	var engine tts.Engine
	engine, err = tts.NewEspeak(voiceLang, gender)
	if err != nil {
		env.Logger.Error("Local speech unavailable", "err", err)
		engine = unavailableEngine{err: err}
	}

	player := audio.NewPlayer()

	qcfg := speech.Config{
		Engine:  engine,
		Player:  player,
		State:   env.Session,
		Metrics: env.Metrics,
		Logger:  env.Logger,
		OnError: func(err error) {
			env.Logger.Warn("Playback failed", "err", err)
			env.Session.Post(session.LevelError, env.Display.T("speech_error"))
		},
	}
	if s.Duck.Enabled {
		qcfg.Ducker = audio.NewDucker([]string{AppName, AppName + "-daemon"}, s.Duck.MinVolume)
		qcfg.DuckFactor = s.Duck.Factor
		qcfg.DuckFade = s.Duck.Fade
	}
	comp.Queue = speech.NewQueue(qcfg)

	var renderer tts.Renderer
	if s.CloudVoice && client != nil {
		renderer = tts.NewOpenAIRenderer(*client, s.OpenAI.SpeechModel, gender, "")
	}
	comp.Speaker = speech.NewSpeaker(comp.Queue, renderer, env.Session, voiceLang, env.Logger)
	comp.Chime = notify.NewChime(player, s.Chime, env.Logger)

	link := buildLink(ctx, s, env, comp)

	devices := router.NewDevices(s.Devices, link, env.Voice, env.Logger)
	handlers := []router.Handler{
		devices,
		router.NewApps(s.Apps, s.FuzzyApps, env.Voice, env.Logger),
		router.NewCodeGen(client, s.OpenAI.ChatModel, s.CodeGen, env.Voice, env.Logger),
		router.NewVision(client, s.OpenAI.ChatModel, router.SnapshotFromSettings(s.Camera), env.Voice, env.Logger),
	}
	if s.Intents {
		handlers = append(handlers, router.NewIntents(client, s.OpenAI.ChatModel, devices, env.Logger))
	}
	handlers = append(handlers, router.NewChat(client, s.OpenAI.ChatModel, s.OpenAI.SystemPrompt, env.Voice, env.Logger))
	comp.Router = router.New(env.Logger, env.Metrics, handlers...)

	buildHub(ctx, s, env, comp)

	if s.Notify {
		desktop := notify.NewDesktop(AppName, env.Display, env.Logger)
		env.Session.Subscribe(desktop)
		comp.Closers = append(comp.Closers, func() error {
			env.Session.Unsubscribe(desktop)
			return desktop.Close()
		})
	}

	return comp, nil
}

// NewOpenAIClient returns a client going through the configured proxy, or
// nil when no API key is set.
func NewOpenAIClient(s *config.Settings) (*openai.Client, error) {
	if s.OpenAI.APIKey == "" {
		return nil, nil
	}

	httpClient, err := proxy.NewHTTPClient(s.Proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(s.OpenAI.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if s.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.OpenAI.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &client, nil
}

// NewRecognizer picks the recognition backend. A whisper recognizer must be
// closed by the caller.
func NewRecognizer(s *config.Settings, client *openai.Client) (stt.Recognizer, error) {
	switch s.STT.Backend {
	case "whisper":
		t, err := stt.NewTranscriber(s.STT.WhisperModel)
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		t.SetThreads(s.STT.Threads)
		return t, nil
	default:
		if client == nil {
			return nil, errors.New("openai: api key is required for the openai recognition backend")
		}
		return stt.NewOpenAI(*client, s.OpenAI.TranscriptionModel), nil
	}
}

// buildLink connects the device link. A link that cannot be reached leaves
// device commands answering that the link is down.
func buildLink(ctx context.Context, s *config.Settings, env Env, comp *Components) router.Link {
	if s.Link.URL == "" {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	p, err := protocol.Dial(dctx, protocol.Config{
		Shard:   s.Link.Name,
		URL:     s.Link.URL,
		Timeout: s.Link.Timeout,
		Ack:     s.Link.Ack,
		OnMessage: func(m *protocol.Message) {
			env.Logger.Info("Device link", "msg", m.String())
		},
	})
	if err != nil {
		env.Logger.Warn("Device link unavailable", "url", s.Link.URL, "err", err)
		return nil
	}

	comp.Background = append(comp.Background, p.Run)
	comp.Closers = append(comp.Closers, p.Close)

	return p
}

// buildHub publishes to the bus and takes commands from it.
func buildHub(ctx context.Context, s *config.Settings, env Env, comp *Components) {
	if s.HubURL == "" {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	h, err := hub.Dial(dctx, s.HubURL, AppName, env.Logger)
	if err != nil {
		env.Logger.Warn("Bus unavailable", "url", s.HubURL, "err", err)
		return
	}

	env.Session.Subscribe(h)
	comp.Closers = append(comp.Closers, func() error {
		env.Session.Unsubscribe(h)
		return h.Close()
	})

	comp.Background = append(comp.Background, func(ctx context.Context) error {
		err := h.Listen(ctx, func(m hub.Message) {
			var err error
			switch m.Kind {
			case hub.KindCommand:
				err = env.Submit(m.Content)
			case hub.KindSay:
				err = env.Say(m.Content)
			}
			if err != nil {
				env.Logger.Debug("Bus command ignored", "kind", m.Kind, "err", err)
			}
		})
		if err != nil {
			env.Logger.Warn("Bus connection lost", "err", err)
		}
		return nil
	})
}

// unavailableEngine fails every text task so the queue reports it and moves
// on.
type unavailableEngine struct {
	err error
}

func (e unavailableEngine) Speak(context.Context, string) error { return e.err }

func (unavailableEngine) Stop() {}
