package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRecognizer struct {
	results map[string]error
	text    map[string]string
	calls   []string
}

func (s *scriptedRecognizer) Recognize(_ context.Context, _ []int16, _ int, lang string) (string, error) {
	s.calls = append(s.calls, lang)
	if err := s.results[lang]; err != nil {
		return "", err
	}
	return s.text[lang], nil
}

func TestBilingual(t *testing.T) {
	tests := []struct {
		name      string
		results   map[string]error
		wantText  string
		wantErr   error
		wantCalls []string
	}{
		{
			name:      "primary succeeds",
			wantText:  "turn on the lamp",
			wantCalls: []string{"en-US"},
		},
		{
			name:      "unrecognized falls back to secondary",
			results:   map[string]error{"en-US": ErrUnrecognized},
			wantText:  "شغل المصباح",
			wantCalls: []string{"en-US", "ar-SA"},
		},
		{
			name:      "service error is not retried",
			results:   map[string]error{"en-US": ErrService},
			wantErr:   ErrService,
			wantCalls: []string{"en-US"},
		},
		{
			name:      "both unrecognized",
			results:   map[string]error{"en-US": ErrUnrecognized, "ar-SA": ErrUnrecognized},
			wantErr:   ErrUnrecognized,
			wantCalls: []string{"en-US", "ar-SA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &scriptedRecognizer{
				results: tt.results,
				text:    map[string]string{"en-US": "turn on the lamp", "ar-SA": "شغل المصباح"},
			}

			text, err := Bilingual(context.Background(), rec, []int16{1}, 16000, "en-US", "ar-SA")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantText, text)
			}
			assert.Equal(t, tt.wantCalls, rec.calls)
		})
	}
}

func TestBaseLanguage(t *testing.T) {
	assert.Equal(t, "en", BaseLanguage("en-US"))
	assert.Equal(t, "ar", BaseLanguage("ar_SA"))
	assert.Equal(t, "ru", BaseLanguage(" RU "))
	assert.Equal(t, "", BaseLanguage(""))
}

func newTestOpenAI(t *testing.T, status int, body string) *OpenAI {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "en", r.FormValue("language"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client := openai.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	return NewOpenAI(client, "")
}

func TestOpenAI_Recognize(t *testing.T) {
	pcm := make([]int16, 480)

	o := newTestOpenAI(t, http.StatusOK, `{"text":" turn on the lamp "}`)
	text, err := o.Recognize(context.Background(), pcm, 16000, "en-US")
	require.NoError(t, err)
	assert.Equal(t, "turn on the lamp", text)

	o = newTestOpenAI(t, http.StatusOK, `{"text":""}`)
	_, err = o.Recognize(context.Background(), pcm, 16000, "en-US")
	assert.True(t, errors.Is(err, ErrUnrecognized))

	o = newTestOpenAI(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`)
	_, err = o.Recognize(context.Background(), pcm, 16000, "en-US")
	assert.True(t, errors.Is(err, ErrService))
}

func TestOpenAI_EmptyAudio(t *testing.T) {
	o := NewOpenAI(openai.NewClient(option.WithAPIKey("test")), "")
	_, err := o.Recognize(context.Background(), nil, 16000, "en-US")
	assert.True(t, errors.Is(err, ErrUnrecognized))
}
