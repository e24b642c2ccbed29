package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/influencehub/internal/config"
)

func TestInboxKeepsMostRecent(t *testing.T) {
	inbox := NewInbox(2)
	for _, text := range []string{"one", "two", "three"} {
		inbox.Notify(context.Background(), Notice{Text: text})
	}
	list := inbox.List()
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Text)
	assert.Equal(t, "three", list[1].Text)

	drained := inbox.Drain()
	assert.Len(t, drained, 2)
	assert.Empty(t, inbox.List())
}

func TestFanoutDeliversToEveryNotifier(t *testing.T) {
	a, b := NewInbox(0), NewInbox(0)
	fan := Fanout{a, nil, b}
	fan.Notify(context.Background(), Notice{ID: "n1"})
	assert.Len(t, a.List(), 1)
	assert.Len(t, b.List(), 1)
}

func TestLogWritesStructuredNotice(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	NewLog(logger).Notify(context.Background(), Notice{
		ID:       "n1",
		Mutation: "mark-payment-paid",
		Level:    LevelError,
		Text:     "Budget must be positive",
		At:       time.Now(),
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, 1, strings.Count(buf.String(), `"level":`), "severity key appears once")
	assert.Equal(t, "error", record["notice"])
	assert.Equal(t, "mark-payment-paid", record["mutation"])
	assert.Equal(t, "Budget must be positive", record["text"])
}

func TestMessagesFallbacks(t *testing.T) {
	messages := NewMessages(nil)
	assert.Equal(t, "update-profile succeeded", messages.Success("update-profile", Data{}))
	assert.Equal(t, "Budget must be positive", messages.Failure("update-profile", Data{Error: "Budget must be positive"}))

	var unset *Messages
	assert.Equal(t, "x succeeded", unset.Success("x", Data{}))
}

func TestMessagesRenderTemplatesAndOverrides(t *testing.T) {
	messages := NewMessages(nil)
	require.NoError(t, messages.Register("update-campaign", `Campaign "{{ .Result.title }}" saved`, `Could not save: {{ .Error }}`))
	require.NoError(t, messages.Apply(map[string]config.NoticeTemplateConfig{
		"update-campaign": {Success: `Saved {{ .Input.title | upper }}`},
	}))

	data := Data{
		Input:  map[string]any{"title": "new"},
		Result: map[string]any{"title": "New"},
		Error:  "Budget must be positive",
	}
	assert.Equal(t, "Saved NEW", messages.Success("update-campaign", data))
	assert.Equal(t, "Could not save: Budget must be positive", messages.Failure("update-campaign", data))
}

func TestMessagesRejectBrokenTemplates(t *testing.T) {
	messages := NewMessages(nil)
	require.Error(t, messages.Register("x", "{{ .Result", ""))
	require.Error(t, messages.Apply(map[string]config.NoticeTemplateConfig{"x": {Error: "{{ end }}"}}))
}
