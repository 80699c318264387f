package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
language: bilingual
voice_gender: female
wake:
  sensitivity: 0.7
capture:
  timeout: 3s
  phrase_limit: 8s
devices:
  - name: lamp
    on_command: lamp on
    off_command: lamp off
    on_signal: "ON:LAMP"
    off_signal: "OFF:LAMP"
    target: VERTEX
apps:
  - name: Firefox
    command: open browser
    path: /usr/bin/firefox
`

func TestLoadFromReader(t *testing.T) {
	s, err := LoadFromReader(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "bilingual", s.Language)
	assert.Equal(t, "female", s.VoiceGender)
	assert.InDelta(t, 0.7, s.Wake.Sensitivity, 1e-6)
	assert.Equal(t, 3*time.Second, s.Capture.Timeout)
	assert.Equal(t, 8*time.Second, s.Capture.PhraseLimit)
	require.Len(t, s.Devices, 1)
	assert.Equal(t, "VERTEX", s.Devices[0].Target)
	require.Len(t, s.Apps, 1)

	// Untouched values keep their defaults.
	assert.Equal(t, 2, s.VAD.Aggressiveness)
	assert.Equal(t, "openai", s.STT.Backend)
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("languge: en-US\n"))
	assert.Error(t, err)
}

func TestLoadFromReader_Empty(t *testing.T) {
	s, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	s := Default()
	s.Language = "fr-FR"
	s.Wake.Sensitivity = 2
	s.VAD.Aggressiveness = 7
	s.STT.Backend = "whisper"
	s.Devices = []Device{{Name: "fan"}, {Name: "fan", OnCommand: "a", OffCommand: "b", OnSignal: "1", OffSignal: "0"}}

	err := Validate(s)
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"language",
		"wake.sensitivity",
		"vad.aggressiveness",
		"stt.whisper_model",
		"on_command and off_command",
		"duplicate name",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv("HARK_LANGUAGE", "ar-SA")
	t.Setenv("PORCUPINE_ACCESS_KEY", "pv-key")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", s.OpenAI.APIKey)
	assert.Equal(t, "ar-SA", s.Language)
	assert.Equal(t, "pv-key", s.Wake.AccessKey)
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv("HARK_OPENAI_API_KEY", "sk-prefixed")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", s.OpenAI.APIKey)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "en-US", s.Language)
}

func TestWatch_EmitsNewSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, path, nil)
	require.NoError(t, err)

	// An invalid edit is skipped.
	require.NoError(t, os.WriteFile(path, []byte("language: klingon\n"), 0o600))
	time.Sleep(2 * debounce)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sample, "bilingual", "ar-SA", 1)), 0o600))

	select {
	case s := <-ch:
		require.NotNil(t, s)
		assert.Equal(t, "ar-SA", s.Language)
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot after file change")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}
