package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

type geminiClient struct {
	http  *resty.Client
	model string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *geminiClient) Provider() string { return ProviderGemini }

func (c *geminiClient) Summarize(ctx context.Context, clinical interface{}) (string, error) {
	prompt, err := buildPrompt(geminiPrompt, clinical)
	if err != nil {
		return "", err
	}

	body := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	body.GenerationConfig.Temperature = temperature

	var result geminiResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("model", c.model).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/models/{model}:generateContent")
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	if resp.IsError() {
		return "", responseError(ProviderGemini, resp, &apiErr)
	}

	var b strings.Builder
	if len(result.Candidates) > 0 {
		for _, p := range result.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
