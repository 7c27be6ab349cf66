package provider

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var anthropicRoleMap = map[string]func(string) anthropic.MessageParam{
	"user": func(text string) anthropic.MessageParam {
		return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
	},
	"developer": func(text string) anthropic.MessageParam {
		return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
	},
	"assistant": func(text string) anthropic.MessageParam {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(text))
	},
}

/*
AnthropicProvider is a provider for the Anthropic API.
*/
type AnthropicProvider struct {
	client *anthropic.Client
}

type AnthropicProviderOption func(*AnthropicProvider)

func NewAnthropicProvider(options ...AnthropicProviderOption) *AnthropicProvider {
	prvdr := &AnthropicProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithAnthropicClient()(prvdr)
	}

	return prvdr
}

func (prvdr *AnthropicProvider) Generate(
	ctx context.Context, params *ProviderParams,
) (*Response, error) {
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(params.Model),
		System:      prvdr.systemBlocks(params.Messages),
		Messages:    prvdr.convertMessages(params.Messages),
		Tools:       prvdr.convertTools(params.Tools),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(params.Temperature),
	}

	llmResponse, err := prvdr.client.Messages.New(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &Response{}

	for _, block := range llmResponse.Content {
		switch contentBlock := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += contentBlock.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:      contentBlock.Name,
				Arguments: string(contentBlock.Input),
			})
		}
	}

	return out, nil
}

// systemBlocks collects system-role messages, which Anthropic carries outside
// the message list.
func (prvdr *AnthropicProvider) systemBlocks(
	messages []Message,
) []anthropic.TextBlockParam {
	out := make([]anthropic.TextBlockParam, 0, 1)

	for _, msg := range messages {
		if msg.Role == "system" {
			out = append(out, anthropic.TextBlockParam{Text: msg.Content})
		}
	}

	return out
}

func (prvdr *AnthropicProvider) convertMessages(
	messages []Message,
) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if fn, ok := anthropicRoleMap[msg.Role]; ok {
			out = append(out, fn(msg.Content))
		}
	}

	return out
}

func (prvdr *AnthropicProvider) convertTools(
	tools []Tool,
) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		properties, _ := tool.Schema["properties"].(map[string]any)

		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
			},
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	return out
}

func WithAnthropicClient() AnthropicProviderOption {
	return func(prvdr *AnthropicProvider) {
		client := anthropic.NewClient(
			option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
		)

		prvdr.client = &client
	}
}
