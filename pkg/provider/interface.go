// Package provider adapts external reasoning and embedding oracles behind a
// single capability: given role-tagged messages and optionally a set of
// declared tools, return plain text or zero or more structured tool calls.
package provider

import "context"

// Message is one role-tagged entry in the prompt.
type Message struct {
	Role    string
	Content string
}

// Tool declares a callable the oracle may invoke. Schema is a JSON schema
// object describing the arguments.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is one structured invocation returned by the oracle. Arguments is
// the raw JSON-encoded argument object.
type ToolCall struct {
	Name      string
	Arguments string
}

// Response is the tagged union an oracle call produces: plain text, tool
// calls, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// ProviderParams carries one oracle request.
type ProviderParams struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int64
}

// Interface is the reasoning oracle contract the engines depend on.
type Interface interface {
	Generate(ctx context.Context, params *ProviderParams) (*Response, error)
}

// Embedder is the embedding oracle contract: text in, fixed-length vector out.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
