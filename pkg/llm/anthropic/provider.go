package anthropic

import (
	"context"
	"fmt"
	"strings"

	"curriculum-qa-be/pkg/llm"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 1024

// Provider implements llm.LLMProvider on the Anthropic Messages API
type Provider struct {
	client    sdk.Client
	model     sdk.Model
	maxTokens int64
}

var _ llm.LLMProvider = (*Provider)(nil)

func NewProvider(apiKey, model string, opts ...option.RequestOption) *Provider {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     sdk.Model(model),
		maxTokens: defaultMaxTokens,
	}
}

func (p *Provider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	options := llm.Apply(llm.Options{Temperature: 0.7}, opts...)

	params := sdk.MessageNewParams{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: sdk.Float(options.Temperature),
	}
	if options.Model != "" {
		params.Model = sdk.Model(options.Model)
	}
	if options.MaxTokens > 0 {
		params.MaxTokens = int64(options.MaxTokens)
	}

	system := options.System
	if options.JSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	for _, msg := range history {
		switch msg.Role {
		case "system":
			system = strings.TrimSpace(msg.Content + "\n\n" + system)
		case "assistant", "model":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", llm.ErrEmptyResponse
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}
