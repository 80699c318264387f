package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hark/internal/config"
	"hark/internal/i18n"
)

var pngFrame = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// visionServer answers with content and records the raw user message
// content.
func visionServer(t *testing.T, content string) (*openai.Client, *[]json.RawMessage) {
	t.Helper()

	var users []json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, m := range body.Messages {
			if m.Role == "user" {
				users = append(users, m.Content)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":%q,
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%q}}]}`,
			body.Model, content)
	}))
	t.Cleanup(srv.Close)

	client := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	return &client, &users
}

func TestVision_DescribesSnapshot(t *testing.T) {
	client, users := visionServer(t, "A desk with a lamp and a laptop.")
	snap := func(context.Context) ([]byte, error) { return pngFrame, nil }
	v := NewVision(client, "", snap, i18n.MustNew(i18n.English), nil)

	reply, ok, err := v.Handle(context.Background(), "What do you see?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A desk with a lamp and a laptop.", reply)

	require.Len(t, *users, 1)
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL    string `json:"url"`
			Detail string `json:"detail"`
		} `json:"image_url"`
	}
	require.NoError(t, json.Unmarshal((*users)[0], &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "What do you see?", parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Contains(t, parts[1].ImageURL.URL, "data:image/png;base64,")
	assert.Equal(t, "low", parts[1].ImageURL.Detail)
}

func TestVision_CameraUnavailable(t *testing.T) {
	client, users := visionServer(t, "unused")
	snap := func(context.Context) ([]byte, error) { return nil, errors.New("no /dev/video0") }
	v := NewVision(client, "", snap, i18n.MustNew(i18n.English), nil)

	for range 2 {
		reply, ok, err := v.Handle(context.Background(), "what can you see")
		assert.True(t, ok)
		assert.ErrorIs(t, err, ErrCameraUnavailable)
		assert.Equal(t, "The camera is not available.", reply)
	}
	assert.True(t, v.reported)
	assert.Empty(t, *users)
}

func TestVision_RejectsNonImage(t *testing.T) {
	client, users := visionServer(t, "unused")
	snap := func(context.Context) ([]byte, error) { return []byte("plain text"), nil }
	v := NewVision(client, "", snap, i18n.MustNew(i18n.English), nil)

	reply, ok, err := v.Handle(context.Background(), "analyze this")
	assert.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Sorry, I couldn't analyze the image.", reply)
	assert.Empty(t, *users)
}

func TestVision_IgnoresOtherRequests(t *testing.T) {
	v := NewVision(nil, "", nil, i18n.MustNew(i18n.English), nil)

	_, ok, err := v.Handle(context.Background(), "turn on the lamp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotFromSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, pngFrame, 0o600))

	img, err := SnapshotFromSettings(config.CameraSettings{Image: path})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pngFrame, img)

	_, err = SnapshotFromSettings(config.CameraSettings{})(context.Background())
	assert.Error(t, err)
}
