package summarizer

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider summarizes via the Anthropic Messages API
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Summarize makes an API call to Anthropic Claude
func (p *AnthropicProvider) Summarize(ctx context.Context, text string, targetChars int) (string, error) {
	response, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(p.model),
		System: []anthropic.TextBlockParam{
			{Text: summaryPrompt(targetChars)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		MaxTokens: int64(targetChars / 2),
	})
	if err != nil {
		return "", err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}
	if content == "" {
		return "", fmt.Errorf("empty summary response")
	}

	return content, nil
}
