package provider

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// MockProvider replays scripted responses keyed by the tool each request
// declares, so engine behavior can be exercised without a live oracle.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string][]*Response
	Err       error
	Requests  []*ProviderParams
}

func NewMockProvider() *MockProvider {
	return &MockProvider{responses: make(map[string][]*Response)}
}

// Script queues a response for requests declaring the named tool. Multiple
// scripted responses for the same tool are consumed in order, the last one
// repeating.
func (prvdr *MockProvider) Script(toolName string, response *Response) *MockProvider {
	prvdr.mu.Lock()
	defer prvdr.mu.Unlock()

	prvdr.responses[toolName] = append(prvdr.responses[toolName], response)
	return prvdr
}

// ScriptCall is shorthand for scripting a single tool invocation response.
func (prvdr *MockProvider) ScriptCall(toolName, arguments string) *MockProvider {
	return prvdr.Script(toolName, &Response{
		ToolCalls: []ToolCall{{Name: toolName, Arguments: arguments}},
	})
}

func (prvdr *MockProvider) Generate(
	ctx context.Context, params *ProviderParams,
) (*Response, error) {
	prvdr.mu.Lock()
	defer prvdr.mu.Unlock()

	prvdr.Requests = append(prvdr.Requests, params)

	if prvdr.Err != nil {
		return nil, prvdr.Err
	}

	for _, tool := range params.Tools {
		queue := prvdr.responses[tool.Name]
		if len(queue) == 0 {
			continue
		}

		response := queue[0]
		if len(queue) > 1 {
			prvdr.responses[tool.Name] = queue[1:]
		}

		return response, nil
	}

	return &Response{}, nil
}

// MockEmbedder produces deterministic fixed-length vectors derived from the
// text, so identical inputs always land on identical points.
type MockEmbedder struct {
	Dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockEmbedder{Dimension: dimension}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))

	out := make([]float32, e.Dimension)
	for i := range out {
		out[i] = float32(sum[i%len(sum)])/255.0 - 0.5
	}

	return out, nil
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		out[i] = vector
	}
	return out, nil
}
