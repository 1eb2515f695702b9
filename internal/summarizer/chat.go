package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// chatClient speaks the chat completions API used by OpenAI and DeepSeek.
type chatClient struct {
	http     *resty.Client
	model    string
	provider string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *chatClient) Provider() string { return c.provider }

func (c *chatClient) Summarize(ctx context.Context, clinical interface{}) (string, error) {
	prompt, err := buildPrompt(chatPrompt, clinical)
	if err != nil {
		return "", err
	}

	var result chatResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%s request: %w", c.provider, err)
	}
	if resp.IsError() {
		return "", responseError(c.provider, resp, &apiErr)
	}

	if len(result.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
