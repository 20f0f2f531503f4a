package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicConfig struct {
	APIKey    string `json:"api_key"`
	MaxTokens int    `json:"max_tokens"`
}

type anthropicProvider struct {
	apiKey    string
	maxTokens int
}

func (p *anthropicProvider) Name() string {
	return "anthropic"
}

func (p *anthropicProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	client := anthropic.NewClient(option.WithAPIKey(p.apiKey))
	maxTokens := p.maxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic response has no text content")
	}
	return strings.TrimSpace(sb.String()), nil
}

func createAnthropicFactory(args interface{}) (IAIProvider, error) {
	cfg := &anthropicConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &anthropicProvider{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func init() {
	Register("anthropic", createAnthropicFactory)
}
