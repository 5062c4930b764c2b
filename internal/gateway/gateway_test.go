package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latestcomment/expert-dialogue/internal/models"
)

func TestOpenAI_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Per Smith (2020), yes."}}]}`)
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Temperature: 0.4})
	text, err := b.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Per Smith (2020), yes.", text)
	assert.Equal(t, models.BackendOpenAI, b.ID())

	assert.Equal(t, DefaultOpenAIModel, got["model"])
	assert.InDelta(t, 0.4, got["temperature"], 1e-9)
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.NotContains(t, got, "max_completion_tokens")
}

func TestOpenAI_MaxTokens(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"length","message":{"role":"assistant","content":"cut"}}]}`)
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", MaxTokens: 300})
	_, err := b.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 300, got["max_completion_tokens"])
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	text, err := b.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, text)
}

func TestOpenAI_MissingKey(t *testing.T) {
	b := NewOpenAI(OpenAIConfig{})
	_, err := b.Generate(context.Background(), "hello")
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClaude_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
			"content":[{"type":"text","text":"I disagree, see Lee (2019)."}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`)
	}))
	defer srv.Close()

	b := NewClaude(ClaudeConfig{APIKey: "ak-test", BaseURL: srv.URL, Temperature: 0.4})
	text, err := b.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "I disagree, see Lee (2019).", text)
	assert.Equal(t, models.BackendClaude, b.ID())

	assert.Equal(t, DefaultClaudeModel, got["model"])
	assert.EqualValues(t, 600, got["max_tokens"])
}

func TestClaude_MissingKey(t *testing.T) {
	b := NewClaude(ClaudeConfig{})
	_, err := b.Generate(context.Background(), "hello")
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

type stubBackend struct {
	id   models.Backend
	text string
}

func (s stubBackend) ID() models.Backend { return s.id }
func (s stubBackend) Generate(context.Context, string) (string, error) {
	return s.text, nil
}

func TestSet_Generate(t *testing.T) {
	set := NewSet(stubBackend{id: models.BackendOpenAI, text: "a"}, nil)

	text, err := set.Generate(context.Background(), models.BackendOpenAI, "p")
	require.NoError(t, err)
	assert.Equal(t, "a", text)

	_, err = set.Generate(context.Background(), models.BackendClaude, "p")
	require.ErrorIs(t, err, ErrUnknownBackend)
}
