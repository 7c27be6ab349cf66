package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the memory tools over MCP on stdio",
	Long:  longMCP,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := buildService(cmd.Context())
		if err != nil {
			return err
		}

		srv := server.NewMCPServer(
			"engram",
			"1.0.0",
			server.WithLogging(),
			server.WithToolCapabilities(true),
		)

		tools.RegisterMemoryTools(srv, service)

		log.Info("serving memory tools on stdio")
		return server.ServeStdio(srv)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var longMCP = `
Serve the memory tool surface over MCP on stdio, for use as a tool
provider inside an agent runtime.

Examples:
  # Serve with the default in-memory backends.
  engram mcp

  # Serve against Neo4j and Qdrant.
  ENGRAM_GRAPH_BACKEND=neo4j ENGRAM_VECTOR_BACKEND=qdrant engram mcp
`
