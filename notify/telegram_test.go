package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer api.Close()

	notifier := NewNotifier("bot-token", "chat-42")
	notifier.apiHost = api.URL

	err := notifier.Send(context.Background(), "feed is almost empty")
	require.NoError(t, err)

	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", gotPayload["chat_id"])
	assert.Equal(t, "feed is almost empty", gotPayload["text"])
	assert.Equal(t, "HTML", gotPayload["parse_mode"])
	assert.Equal(t, true, gotPayload["disable_web_page_preview"])
}

func TestSendMessageAPIError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer api.Close()

	notifier := NewNotifier("bot-token", "chat-42")
	notifier.apiHost = api.URL

	err := notifier.Send(context.Background(), "hello")
	assert.ErrorContains(t, err, "chat not found")
}

func TestSendMessageUnconfigured(t *testing.T) {
	notifier := NewNotifier("", "")
	assert.Error(t, notifier.Send(context.Background(), "hello"))
}
