// Package config loads the assistant's settings snapshot.
//
// Settings come from a YAML file, then environment variables override the
// secrets and a few frequently changed values. A snapshot is never mutated
// after Load; a changed file produces a new snapshot (see Watch).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override: HARK_LANGUAGE, ...
// Secrets are also read without the prefix (OPENAI_API_KEY).
const EnvPrefix = "hark"

var (
	ValidLanguages = []string{"en-US", "ar-SA", "bilingual"}
	ValidGenders   = []string{"male", "female"}
	ValidBackends  = []string{"openai", "whisper"}
)

type Device struct {
	Name       string `yaml:"name"`
	OnCommand  string `yaml:"on_command"`
	OffCommand string `yaml:"off_command"`
	OnSignal   string `yaml:"on_signal"`
	OffSignal  string `yaml:"off_signal"`
	// Target is the hub shard that owns the device.
	Target string `yaml:"target"`
}

type App struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Path    string   `yaml:"path"`
	Args    []string `yaml:"args"`
}

type WakeSettings struct {
	AccessKey   string  `yaml:"access_key"`
	Sensitivity float32 `yaml:"sensitivity"`
}

type VADSettings struct {
	Aggressiveness int `yaml:"aggressiveness"`
	FrameMs        int `yaml:"frame_ms"`
}

type CaptureSettings struct {
	Timeout     time.Duration `yaml:"timeout"`
	PhraseLimit time.Duration `yaml:"phrase_limit"`
}

type OpenAISettings struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	ChatModel          string `yaml:"chat_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	SpeechModel        string `yaml:"speech_model"`
	SystemPrompt       string `yaml:"system_prompt"`
}

type STTSettings struct {
	Backend      string `yaml:"backend"`
	WhisperModel string `yaml:"whisper_model"`
	Threads      int    `yaml:"threads"`
}

type LinkSettings struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
	// Ack waits for the hub's OK/ERR reply to every device signal.
	Ack     bool          `yaml:"ack"`
	Timeout time.Duration `yaml:"timeout"`
}

type DuckSettings struct {
	Enabled   bool          `yaml:"enabled"`
	Factor    float64       `yaml:"factor"`
	MinVolume int           `yaml:"min_volume"`
	Fade      time.Duration `yaml:"fade"`
}

type CodeGenSettings struct {
	// Editor opens each generated file; code generation is off without it.
	Editor string   `yaml:"editor"`
	Args   []string `yaml:"args"`
	// Dir receives the generated files.
	Dir string `yaml:"dir"`
}

type CameraSettings struct {
	// Snapshot is a command that writes one JPEG or PNG frame to stdout.
	Snapshot []string `yaml:"snapshot"`
	// Image, when set, is analysed instead of a camera frame.
	Image string `yaml:"image"`
}

type Settings struct {
	LogLevel    string `yaml:"log_level"`
	Language    string `yaml:"language"`
	VoiceGender string `yaml:"voice_gender"`
	// CloudVoice renders Arabic replies through the OpenAI speech endpoint.
	CloudVoice bool   `yaml:"cloud_voice"`
	Chime      string `yaml:"chime"`
	Proxy      string `yaml:"proxy"`
	// Intents lets the language model map free-form phrasing onto devices.
	Intents   bool `yaml:"intents"`
	FuzzyApps bool `yaml:"fuzzy_apps"`
	// Notify raises desktop notifications through notify-send.
	Notify bool `yaml:"notify"`
	// HubURL is the websocket bus that receives state and chat lines.
	HubURL string `yaml:"hub_url"`

	Wake    WakeSettings    `yaml:"wake"`
	VAD     VADSettings     `yaml:"vad"`
	Capture CaptureSettings `yaml:"capture"`
	OpenAI  OpenAISettings  `yaml:"openai"`
	STT     STTSettings     `yaml:"stt"`
	Link    LinkSettings    `yaml:"link"`
	Duck    DuckSettings    `yaml:"duck"`
	CodeGen CodeGenSettings `yaml:"codegen"`
	Camera  CameraSettings  `yaml:"camera"`

	Devices []Device `yaml:"devices"`
	Apps    []App    `yaml:"apps"`
}

// Env lists the environment overrides.
type Env struct {
	OpenAIKey    string `envconfig:"OPENAI_API_KEY"`
	PorcupineKey string `envconfig:"PORCUPINE_ACCESS_KEY"`
	Language     string `envconfig:"LANGUAGE"`
	VoiceGender  string `envconfig:"VOICE_GENDER"`
	Proxy        string `envconfig:"PROXY"`
	LinkURL      string `envconfig:"LINK_URL"`
	HubURL       string `envconfig:"HUB_URL"`
	STTBackend   string `envconfig:"STT_BACKEND"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
}

// Default returns the settings used when no file is present.
func Default() *Settings {
	return &Settings{
		LogLevel:    "info",
		Language:    "en-US",
		VoiceGender: "male",
		CloudVoice:  true,
		Notify:      true,
		Wake: WakeSettings{
			Sensitivity: 0.5,
		},
		VAD: VADSettings{
			Aggressiveness: 2,
			FrameMs:        30,
		},
		Capture: CaptureSettings{
			Timeout:     5 * time.Second,
			PhraseLimit: 10 * time.Second,
		},
		OpenAI: OpenAISettings{
			ChatModel:          "gpt-5-nano",
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
		},
		STT: STTSettings{
			Backend: "openai",
		},
		Link: LinkSettings{
			Name:    "HARK",
			Timeout: 2 * time.Second,
		},
		Duck: DuckSettings{
			Enabled:   true,
			Factor:    0.3,
			MinVolume: 5,
			Fade:      200 * time.Millisecond,
		},
		Camera: CameraSettings{
			Snapshot: []string{"fswebcam", "--quiet", "--no-banner", "--jpeg", "85", "-"},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		default:
			if err := s.decode(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	if err := s.applyEnv(); err != nil {
		return nil, err
	}

	if err := Validate(s); err != nil {
		return nil, err
	}

	return s, nil
}

// LoadFromReader decodes YAML over the defaults without environment
// overrides.
func LoadFromReader(r io.Reader) (*Settings, error) {
	s := Default()
	if err := s.decode(r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Settings) applyEnv() error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.OpenAI.APIKey, env.OpenAIKey)
	set(&s.Wake.AccessKey, env.PorcupineKey)
	set(&s.Language, env.Language)
	set(&s.VoiceGender, env.VoiceGender)
	set(&s.Proxy, env.Proxy)
	set(&s.Link.URL, env.LinkURL)
	set(&s.HubURL, env.HubURL)
	set(&s.STT.Backend, env.STTBackend)
	set(&s.LogLevel, env.LogLevel)

	return nil
}

// Validate returns every problem in s joined into one error.
func Validate(s *Settings) error {
	var errs []error

	if !slices.Contains(ValidLanguages, s.Language) {
		errs = append(errs, fmt.Errorf("language %q is invalid; valid values: %v", s.Language, ValidLanguages))
	}
	if !slices.Contains(ValidGenders, s.VoiceGender) {
		errs = append(errs, fmt.Errorf("voice_gender %q is invalid; valid values: %v", s.VoiceGender, ValidGenders))
	}
	if s.Wake.Sensitivity < 0 || s.Wake.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("wake.sensitivity %v must be within [0, 1]", s.Wake.Sensitivity))
	}
	if s.VAD.Aggressiveness < 0 || s.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d must be within [0, 3]", s.VAD.Aggressiveness))
	}
	if !slices.Contains([]int{10, 20, 30}, s.VAD.FrameMs) {
		errs = append(errs, fmt.Errorf("vad.frame_ms %d must be 10, 20 or 30", s.VAD.FrameMs))
	}
	if s.Capture.Timeout <= 0 {
		errs = append(errs, errors.New("capture.timeout must be positive"))
	}
	if s.Capture.PhraseLimit <= 0 {
		errs = append(errs, errors.New("capture.phrase_limit must be positive"))
	}
	if !slices.Contains(ValidBackends, s.STT.Backend) {
		errs = append(errs, fmt.Errorf("stt.backend %q is invalid; valid values: %v", s.STT.Backend, ValidBackends))
	}
	if s.STT.Backend == "whisper" && s.STT.WhisperModel == "" {
		errs = append(errs, errors.New("stt.whisper_model is required for the whisper backend"))
	}
	if s.Duck.Factor < 0 || s.Duck.Factor > 1 {
		errs = append(errs, fmt.Errorf("duck.factor %v must be within [0, 1]", s.Duck.Factor))
	}

	seen := map[string]bool{}
	for i, d := range s.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: name is required", i))
		}
		if d.OnCommand == "" || d.OffCommand == "" {
			errs = append(errs, fmt.Errorf("devices[%d] %q: on_command and off_command are required", i, d.Name))
		}
		if d.OnSignal == "" || d.OffSignal == "" {
			errs = append(errs, fmt.Errorf("devices[%d] %q: on_signal and off_signal are required", i, d.Name))
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
	}

	if s.CodeGen.Editor == "" && len(s.CodeGen.Args) > 0 {
		errs = append(errs, errors.New("codegen.args given without codegen.editor"))
	}

	for i, a := range s.Apps {
		if a.Name == "" || a.Command == "" || a.Path == "" {
			errs = append(errs, fmt.Errorf("apps[%d] %q: name, command and path are required", i, a.Name))
		}
	}

	return errors.Join(errs...)
}
