package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIRenderer_Render(t *testing.T) {
	var got map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-fake-mp3"))
	}))
	defer server.Close()

	client := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	r := NewOpenAIRenderer(client, "", Female, t.TempDir())

	path, err := r.Render(context.Background(), "مرحبا", "ar-SA")
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-mp3", string(data))

	assert.Equal(t, "shimmer", got["voice"])
	assert.Equal(t, "مرحبا", got["input"])
	assert.Equal(t, "mp3", got["response_format"])
}

func TestOpenAIRenderer_VoiceByGender(t *testing.T) {
	voices := make(chan string, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Voice string `json:"voice"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		voices <- body.Voice
		w.Write([]byte("ID3"))
	}))
	defer server.Close()

	client := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL), option.WithMaxRetries(0))

	for gender, want := range map[Gender]string{Male: "echo", Female: "shimmer"} {
		path, err := NewOpenAIRenderer(client, "", gender, t.TempDir()).Render(context.Background(), "مرحبا", "ar-SA")
		require.NoError(t, err)
		os.Remove(path)
		assert.Equal(t, want, <-voices, gender.String())
	}
}

func TestOpenAIRenderer_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	r := NewOpenAIRenderer(client, "", Male, t.TempDir())

	_, err := r.Render(context.Background(), "مرحبا", "ar-SA")
	assert.Error(t, err)

	_, err = r.Render(context.Background(), "  ", "ar-SA")
	assert.Error(t, err)
}

func TestParseGender(t *testing.T) {
	assert.Equal(t, Female, ParseGender("Female"))
	assert.Equal(t, Male, ParseGender("male"))
	assert.Equal(t, Male, ParseGender(""))
	assert.Equal(t, "female", Female.String())
	assert.Equal(t, "ar", espeakLanguage("ar-SA"))
	assert.Equal(t, "en-us", espeakLanguage("en_US"))
}
