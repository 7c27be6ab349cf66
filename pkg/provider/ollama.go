package provider

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"

	"github.com/engramlabs/engram/pkg/utils"
)

/*
ollamaRoleMap compresses convertMessages' switch.
*/
var ollamaRoleMap = map[string]string{
	"system":    "system",
	"user":      "user",
	"developer": "user",
	"assistant": "assistant",
}

/*
OllamaProvider is a provider for a local Ollama instance.
*/
type OllamaProvider struct {
	client *api.Client
}

type OllamaProviderOption func(*OllamaProvider)

func NewOllamaProvider(options ...OllamaProviderOption) *OllamaProvider {
	prvdr := &OllamaProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithOllamaClient()(prvdr)
	}

	return prvdr
}

func (prvdr *OllamaProvider) Generate(
	ctx context.Context, params *ProviderParams,
) (*Response, error) {
	stream := false

	req := &api.ChatRequest{
		Model:    params.Model,
		Messages: prvdr.convertMessages(params.Messages),
		Tools:    prvdr.convertTools(params.Tools),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": params.Temperature,
		},
	}

	out := &Response{}

	respFunc := func(resp api.ChatResponse) error {
		out.Text += resp.Message.Content

		for _, toolCall := range resp.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:      toolCall.Function.Name,
				Arguments: toolCall.Function.Arguments.String(),
			})
		}

		return nil
	}

	if err := prvdr.client.Chat(ctx, req, respFunc); err != nil {
		return nil, err
	}

	return out, nil
}

func (prvdr *OllamaProvider) convertMessages(
	messages []Message,
) []api.Message {
	out := make([]api.Message, 0, len(messages))

	for _, msg := range messages {
		if role, ok := ollamaRoleMap[msg.Role]; ok {
			out = append(out, api.Message{Role: role, Content: msg.Content})
		}
	}

	return out
}

func (prvdr *OllamaProvider) convertTools(
	tools []Tool,
) []api.Tool {
	out := make([]api.Tool, 0, len(tools))

	for _, tool := range tools {
		required, _ := tool.Schema["required"].([]string)
		rawProps, _ := tool.Schema["properties"].(map[string]any)

		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters: struct {
					Type       string   `json:"type"`
					Defs       any      `json:"$defs,omitempty"`
					Items      any      `json:"items,omitempty"`
					Required   []string `json:"required"`
					Properties map[string]struct {
						Type        api.PropertyType `json:"type"`
						Items       any              `json:"items,omitempty"`
						Description string           `json:"description"`
						Enum        []any            `json:"enum,omitempty"`
					} `json:"properties"`
				}{
					Type:     "object",
					Required: required,
					Properties: func() map[string]struct {
						Type        api.PropertyType `json:"type"`
						Items       any              `json:"items,omitempty"`
						Description string           `json:"description"`
						Enum        []any            `json:"enum,omitempty"`
					} {
						props := make(map[string]struct {
							Type        api.PropertyType `json:"type"`
							Items       any              `json:"items,omitempty"`
							Description string           `json:"description"`
							Enum        []any            `json:"enum,omitempty"`
						})
						for name, prop := range rawProps {
							propMap, ok := prop.(map[string]any)
							if !ok {
								continue
							}
							typeStr, ok := propMap["type"].(string)
							if !ok {
								continue
							}
							desc, _ := propMap["description"].(string)
							enum, _ := propMap["enum"].([]any)
							props[name] = struct {
								Type        api.PropertyType `json:"type"`
								Items       any              `json:"items,omitempty"`
								Description string           `json:"description"`
								Enum        []any            `json:"enum,omitempty"`
							}{
								Type:        api.PropertyType{typeStr},
								Items:       propMap["items"],
								Description: desc,
								Enum:        enum,
							}
						}
						return props
					}(),
				},
			},
		})
	}

	return out
}

type OllamaEmbedder struct {
	api   *api.Client
	Model string
}

type OllamaEmbedderOption func(*OllamaEmbedder)

func NewOllamaEmbedder(options ...OllamaEmbedderOption) *OllamaEmbedder {
	embedder := &OllamaEmbedder{Model: "nomic-embed-text"}

	for _, option := range options {
		option(embedder)
	}

	if embedder.api == nil {
		if client, err := api.ClientFromEnvironment(); err == nil {
			embedder.api = client
		} else {
			log.Error("failed to create Ollama client", "error", err)
		}
	}

	return embedder
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.api.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}

	return utils.ConvertToFloat32(resp.Embedding), nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}

	return vectors, nil
}

func WithOllamaClient() OllamaProviderOption {
	return func(prvdr *OllamaProvider) {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			log.Error("failed to create Ollama client", "error", err)
			return
		}
		prvdr.client = client
	}
}

func WithOllamaEmbedderModel(model string) OllamaEmbedderOption {
	return func(e *OllamaEmbedder) {
		e.Model = model
	}
}

func WithOllamaEmbedderClient(client *api.Client) OllamaEmbedderOption {
	return func(e *OllamaEmbedder) {
		e.api = client
	}
}
