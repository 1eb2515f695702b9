// Package summarizer produces optional free-text narratives of a clinical
// context through hosted language models. The deterministic report never
// depends on it.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"

	temperature = 0.3
)

var (
	ErrUnknownProvider = errors.New("summarizer: unknown provider")
	ErrMissingAPIKey   = errors.New("summarizer: api key required")
	ErrEmptyResponse   = errors.New("summarizer: empty response")
)

type providerDefaults struct {
	baseURL string
	model   string
}

var defaults = map[string]providerDefaults{
	ProviderOpenAI:   {baseURL: "https://api.openai.com/v1", model: "gpt-3.5-turbo"},
	ProviderDeepSeek: {baseURL: "https://api.deepseek.com", model: "deepseek-chat"},
	ProviderGemini:   {baseURL: "https://generativelanguage.googleapis.com/v1beta", model: "gemini-pro"},
}

// Summarizer turns a clinical context into narrative text.
type Summarizer interface {
	Summarize(ctx context.Context, clinical interface{}) (string, error)
	Provider() string
}

// Options configures a Summarizer. Empty BaseURL and Model use the provider
// defaults.
type Options struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// New returns the client for opts.Provider.
func New(opts Options) (Summarizer, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	d, ok := defaults[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = d.baseURL
	}
	if opts.Model == "" {
		opts.Model = d.model
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if provider == ProviderGemini {
		http.SetHeader("x-goog-api-key", opts.APIKey)
		return &geminiClient{http: http, model: opts.Model}, nil
	}
	http.SetAuthToken(opts.APIKey)
	return &chatClient{http: http, model: opts.Model, provider: provider}, nil
}

const chatPrompt = `You are a clinical assistant.

Generate:
1. Clinical Summary
2. Key Findings
3. Suggestions (non-diagnostic)

Patient Data:
%s
`

const geminiPrompt = `You are a clinical decision support assistant.

Based on the patient data below, generate:
1. Clinical Summary
2. Key Findings
3. Suggestions (supportive only, non-diagnostic)

Patient Data:
%s
`

func buildPrompt(template string, clinical interface{}) (string, error) {
	data, err := json.MarshalIndent(clinical, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode clinical context: %w", err)
	}
	return fmt.Sprintf(template, data), nil
}

// apiError captures the error body shape shared by the hosted APIs.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func responseError(provider string, resp *resty.Response, body *apiError) error {
	msg := strings.TrimSpace(body.Error.Message)
	if msg == "" {
		msg = resp.Status()
	}
	return fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode(), msg)
}
