package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clinical = map[string]interface{}{
	"high_priority": []string{"Right Eye: Phthisis Bulbi"},
	"risk_flags":    []string{"single seeing eye"},
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Provider: "claude", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New(Options{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	s, err := New(Options{Provider: " DeepSeek ", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, s.Provider())

	c, ok := s.(*chatClient)
	require.True(t, ok)
	assert.Equal(t, "deepseek-chat", c.model)
	assert.Equal(t, "https://api.deepseek.com", c.http.BaseURL)
}

func TestChatClient_Summarize(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  1. Clinical Summary ...  "}}]}`))
	}))
	defer srv.Close()

	s, err := New(Options{Provider: ProviderOpenAI, APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	text, err := s.Summarize(context.Background(), clinical)
	require.NoError(t, err)
	assert.Equal(t, "1. Clinical Summary ...", text)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "You are a clinical assistant.")
	assert.Contains(t, got.Messages[0].Content, "Suggestions (non-diagnostic)")
	assert.Contains(t, got.Messages[0].Content, "Phthisis Bulbi")
}

func TestChatClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`, "status 401: invalid api key"},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrEmptyResponse.Error()},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`, ErrEmptyResponse.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s, err := New(Options{Provider: ProviderDeepSeek, APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = s.Summarize(context.Background(), clinical)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGeminiClient_Summarize(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Summary "},{"text":"text"}]}}]}`))
	}))
	defer srv.Close()

	s, err := New(Options{Provider: ProviderGemini, APIKey: "g-key", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, s.Provider())

	text, err := s.Summarize(context.Background(), clinical)
	require.NoError(t, err)
	assert.Equal(t, "Summary text", text)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Contains(t, got.Contents[0].Parts[0].Text, "clinical decision support assistant")
	assert.InDelta(t, 0.3, got.GenerationConfig.Temperature, 1e-9)
}

func TestSummarize_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	s, err := New(Options{Provider: ProviderOpenAI, APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.Summarize(ctx, clinical)
	assert.Error(t, err)
}

func TestBuildPrompt_Unencodable(t *testing.T) {
	_, err := buildPrompt(chatPrompt, map[string]interface{}{"x": make(chan int)})
	assert.Error(t, err)
}
