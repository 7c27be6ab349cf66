package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/provider"
)

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func newService() (*Service, *provider.MockProvider) {
	mock := provider.NewMockProvider()
	embedder := provider.NewMockEmbedder(16)
	config := memory.Config{}

	return &Service{
		Graph: memory.NewGraphEngine(memory.NewInMemoryGraphStore(), mock, embedder, config),
		Flat:  memory.NewFlatEngine(memory.NewInMemoryVectorStore(), mock, embedder, config),
	}, mock
}

func TestMemoryTools(t *testing.T) {
	ctx := context.Background()

	service, mock := newService()
	mock.ScriptCall("extract_entities",
		`{"entities":[{"entity":"john","entity_type":"person"},{"entity":"openai","entity_type":"organization"}]}`,
	)
	mock.ScriptCall("establish_relationships",
		`{"entities":[{"source":"john","relationship":"works_at","destination":"openai"}]}`,
	)

	t.Run("memory_add consolidates into both stores", func(t *testing.T) {
		result, err := service.handleAdd(ctx, callRequest("memory_add", map[string]any{
			"content": "John works at OpenAI",
			"user_id": "alice",
		}))
		require.NoError(t, err)

		out := textResult(t, result)
		require.Len(t, out["events"], 1)
		require.Len(t, out["added"], 1)
	})

	t.Run("memory_add requires content", func(t *testing.T) {
		_, err := service.handleAdd(ctx, callRequest("memory_add", map[string]any{
			"user_id": "alice",
		}))
		require.Error(t, err)
	})

	t.Run("memory_search returns facts and relations", func(t *testing.T) {
		result, err := service.handleSearch(ctx, callRequest("memory_search", map[string]any{
			"query":   "John works at OpenAI",
			"user_id": "alice",
		}))
		require.NoError(t, err)

		out := textResult(t, result)
		require.Len(t, out["memories"], 1)
		require.Len(t, out["relations"], 1)
	})

	t.Run("memory_get_all lists the scope", func(t *testing.T) {
		result, err := service.handleGetAll(ctx, callRequest("memory_get_all", map[string]any{
			"user_id": "alice",
		}))
		require.NoError(t, err)

		out := textResult(t, result)
		require.Len(t, out["memories"], 1)
		require.Len(t, out["relations"], 1)
	})

	t.Run("other scopes see nothing", func(t *testing.T) {
		result, err := service.handleGetAll(ctx, callRequest("memory_get_all", map[string]any{
			"user_id": "bob",
		}))
		require.NoError(t, err)

		out := textResult(t, result)
		assert.Empty(t, out["memories"])
		assert.Empty(t, out["relations"])
	})

	t.Run("memory_delete_all wipes the scope", func(t *testing.T) {
		_, err := service.handleDeleteAll(ctx, callRequest("memory_delete_all", map[string]any{
			"user_id": "alice",
		}))
		require.NoError(t, err)

		result, err := service.handleGetAll(ctx, callRequest("memory_get_all", map[string]any{
			"user_id": "alice",
		}))
		require.NoError(t, err)

		out := textResult(t, result)
		assert.Empty(t, out["memories"])
		assert.Empty(t, out["relations"])
	})

	t.Run("scope is required", func(t *testing.T) {
		_, err := service.handleGetAll(ctx, callRequest("memory_get_all", map[string]any{}))
		require.Error(t, err)
	})
}
