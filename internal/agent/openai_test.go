package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPromptSpec(t *testing.T) {
	spec, err := DefaultPromptSpec()
	require.NoError(t, err)
	assert.Contains(t, spec.System, "BOB")
	assert.Contains(t, spec.Format, "Based on your collection and preferences, here are my top 3 recommendations:")
	assert.InDelta(t, 0.7, spec.Style.Temperature, 1e-6)
	assert.Equal(t, 700, spec.Style.MaxTokens)
}

func TestParsePromptSpec_Errors(t *testing.T) {
	_, err := ParsePromptSpec([]byte("system: \"  \"\n"))
	assert.Error(t, err)

	_, err = ParsePromptSpec([]byte("system: [unterminated"))
	assert.Error(t, err)
}

func TestLoadPromptSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system: Be brief.\nstyle:\n  max_tokens: 50\n"), 0o600))

	spec, err := LoadPromptSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", spec.System)
	assert.Equal(t, 50, spec.Style.MaxTokens)

	_, err = LoadPromptSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenAIAgent_SystemPrompt(t *testing.T) {
	a := NewOpenAIAgent(nil, "", PromptSpec{System: "You are BOB.", Format: "Use a list."})
	assert.Equal(t, openai.GPT4oMini, a.model)

	assert.Equal(t, "You are BOB.\n\nUse a list.", a.systemPrompt(nil))
	assert.Equal(t,
		"You are BOB.\n\nUse a list.\n\nCollection:\n- Blanton's\n- Lagavulin 16",
		a.systemPrompt([]string{"Blanton's", "Lagavulin 16"}))
}

func TestOpenAIAgent_Respond(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  1. **Eagle Rare 10 Year** - $39.99\n"}}]
		}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	spec, err := DefaultPromptSpec()
	require.NoError(t, err)
	a := NewOpenAIAgent(openai.NewClientWithConfig(cfg), "", spec)

	reply, err := a.Respond(context.Background(), MessageRequest{
		Text:       "something sweet",
		Wallet:     "Wallet111",
		Collection: []string{"Buffalo Trace"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1. **Eagle Rare 10 Year** - $39.99", reply)

	assert.Equal(t, openai.GPT4oMini, got.Model)
	assert.Equal(t, "Wallet111", got.User)
	assert.Equal(t, 700, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "The user's bar currently holds:\n- Buffalo Trace")
	assert.Equal(t, "something sweet", got.Messages[1].Content)
}

func TestOpenAIAgent_RespondErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	a := NewOpenAIAgent(openai.NewClientWithConfig(cfg), "gpt-4o", PromptSpec{System: "x"})

	_, err := a.Respond(context.Background(), MessageRequest{Text: "hi"})
	assert.ErrorContains(t, err, "no choices")

	_, err = a.Respond(context.Background(), MessageRequest{Text: ""})
	assert.Error(t, err)
}
