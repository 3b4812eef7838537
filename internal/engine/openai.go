package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to any OpenAI-compatible chat completion endpoint
// (OpenAI itself, LiteLLM, mlx-lm, vLLM).
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for the endpoint at baseURL. An empty
// baseURL targets api.openai.com. baseURL must include the API version path
// (for example http://localhost:4000/v1).
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: 0,
	}
	if jsonSchema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", e.normalize(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) normalize(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Backend: e.Name(), Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &StatusError{Backend: e.Name(), Code: reqErr.HTTPStatusCode, Message: msg}
	}
	return fmt.Errorf("openai chat: %w", err)
}
