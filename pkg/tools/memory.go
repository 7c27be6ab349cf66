// Package tools exposes the consolidation engines over MCP so agents can
// read and write memories as ordinary tool calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engramlabs/engram/pkg/memory"
)

// Service bundles the two engines behind the tool surface.
type Service struct {
	Graph *memory.GraphEngine
	Flat  *memory.FlatEngine
}

// RegisterMemoryTools attaches the four memory tools to the supplied MCP
// server instance.
func RegisterMemoryTools(srv *server.MCPServer, service *Service) {
	srv.AddTool(buildAddTool(), service.handleAdd)
	srv.AddTool(buildSearchTool(), service.handleSearch)
	srv.AddTool(buildGetAllTool(), service.handleGetAll)
	srv.AddTool(buildDeleteAllTool(), service.handleDeleteAll)
}

func buildAddTool() mcp.Tool {
	return mcp.NewTool(
		"memory_add",
		mcp.WithDescription("Consolidates a piece of conversation text into long-term memory: facts into the similarity store, entities and relationships into the graph."),
		mcp.WithString("content",
			mcp.Description("Text to remember"),
			mcp.Required(),
		),
		mcp.WithString("user_id", mcp.Description("Owner user identifier")),
		mcp.WithString("agent_id", mcp.Description("Owner agent identifier")),
		mcp.WithString("run_id", mcp.Description("Owner run identifier")),
		mcp.WithString("actor_id", mcp.Description("Actor identifier within the scope")),
	)
}

func buildSearchTool() mcp.Tool {
	return mcp.NewTool(
		"memory_search",
		mcp.WithDescription("Retrieves the stored facts and relationships most relevant to a query, scoped to one owner."),
		mcp.WithString("query",
			mcp.Description("Search query"),
			mcp.Required(),
		),
		mcp.WithString("user_id", mcp.Description("Owner user identifier")),
		mcp.WithString("agent_id", mcp.Description("Owner agent identifier")),
		mcp.WithString("run_id", mcp.Description("Owner run identifier")),
		mcp.WithString("actor_id", mcp.Description("Actor identifier within the scope")),
		mcp.WithBoolean("exclude_private", mcp.Description("Drop relationships flagged privacy sensitive")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of flat results")),
	)
}

func buildGetAllTool() mcp.Tool {
	return mcp.NewTool(
		"memory_get_all",
		mcp.WithDescription("Lists everything remembered for one owner scope."),
		mcp.WithString("user_id", mcp.Description("Owner user identifier")),
		mcp.WithString("agent_id", mcp.Description("Owner agent identifier")),
		mcp.WithString("run_id", mcp.Description("Owner run identifier")),
		mcp.WithString("actor_id", mcp.Description("Actor identifier within the scope")),
		mcp.WithBoolean("exclude_private", mcp.Description("Drop relationships flagged privacy sensitive")),
	)
}

func buildDeleteAllTool() mcp.Tool {
	return mcp.NewTool(
		"memory_delete_all",
		mcp.WithDescription("Forgets everything stored for one owner scope, facts and graph alike."),
		mcp.WithString("user_id", mcp.Description("Owner user identifier")),
		mcp.WithString("agent_id", mcp.Description("Owner agent identifier")),
		mcp.WithString("run_id", mcp.Description("Owner run identifier")),
		mcp.WithString("actor_id", mcp.Description("Actor identifier within the scope")),
	)
}

func scopeFromRequest(req mcp.CallToolRequest) memory.Scope {
	return memory.Scope{
		UserID:  req.GetString("user_id", ""),
		AgentID: req.GetString("agent_id", ""),
		RunID:   req.GetString("run_id", ""),
		ActorID: req.GetString("actor_id", ""),
	}
}

func (service *Service) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}

	scope := scopeFromRequest(req)

	events, err := service.Flat.Add(ctx, content, scope, nil)
	if err != nil {
		return nil, err
	}

	graphResult, err := service.Graph.Add(ctx, content, scope)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"events":  events,
		"added":   graphResult.Added,
		"deleted": graphResult.Deleted,
	}

	b, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(b)), nil
}

func (service *Service) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}

	scope := scopeFromRequest(req)
	limit := req.GetInt("limit", 0)

	items, err := service.Flat.Search(ctx, query, scope, limit)
	if err != nil {
		return nil, err
	}

	triples, err := service.Graph.Search(ctx, query, scope, memory.SearchOptions{
		FilterPrivate: req.GetBool("exclude_private", false),
	})
	if err != nil {
		return nil, err
	}

	b, _ := json.Marshal(map[string]any{
		"memories":  itemsToJSON(items),
		"relations": triples,
	})
	return mcp.NewToolResultText(string(b)), nil
}

func (service *Service) handleGetAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := scopeFromRequest(req)

	items, err := service.Flat.GetAll(ctx, scope, 0)
	if err != nil {
		return nil, err
	}

	triples, err := service.Graph.GetAll(ctx, scope, 0, req.GetBool("exclude_private", false))
	if err != nil {
		return nil, err
	}

	b, _ := json.Marshal(map[string]any{
		"memories":  itemsToJSON(items),
		"relations": triples,
	})
	return mcp.NewToolResultText(string(b)), nil
}

func (service *Service) handleDeleteAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := scopeFromRequest(req)

	if err := service.Flat.DeleteAll(ctx, scope); err != nil {
		return nil, err
	}
	if err := service.Graph.DeleteAll(ctx, scope); err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(`{"deleted":true}`), nil
}

func itemsToJSON(items []memory.Item) []map[string]any {
	out := make([]map[string]any, 0, len(items))

	for _, item := range items {
		entry := map[string]any{
			"id":     item.ID,
			"memory": item.Content,
			"hash":   item.Hash,
			"score":  item.Score,
		}
		if item.MemoryType != "" {
			entry["memory_type"] = item.MemoryType
		}
		if !item.CreatedAt.IsZero() {
			entry["created_at"] = item.CreatedAt
		}
		if item.UpdatedAt != nil {
			entry["updated_at"] = item.UpdatedAt
		}
		out = append(out, entry)
	}

	return out
}
