package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openAI completes prompts with the Chat Completions API in JSON mode.
type openAI struct {
	client *openai.Client
	model  string
}

func newOpenAI(model, baseURL, apiKey string) (*openAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("SPECFORGE_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (p *openAI) name() string { return "OpenAI" }

func (p *openAI) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty response from OpenAI", ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
