/*
Package cmd implements the command-line interface for the engram memory
engine: consolidating text into memory, searching it, and serving the
tool surface over MCP.
*/
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/engramlabs/engram/pkg/logging"
)

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "engram",
		Short: "Long-term memory consolidation for conversational agents",
		Long:  longRoot,
	}
)

// Execute is the main entry point for the engram CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default is $HOME/.engram/config.yml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level (debug, info, warn, error)",
	)
}

func initConfig() {
	viper.SetDefault("provider.name", "openai")
	viper.SetDefault("provider.model", "gpt-4o-mini")
	viper.SetDefault("embedder.model", "")
	viper.SetDefault("embedder.dimension", 1536)
	viper.SetDefault("graph.backend", "memory")
	viper.SetDefault("vector.backend", "memory")
	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "")
	viper.SetDefault("qdrant.endpoint", "http://localhost:6333")
	viper.SetDefault("qdrant.collection", "engram")
	viper.SetDefault("qdrant.api_key", "")
	viper.SetDefault("memory.similarity_threshold", 0.7)
	viper.SetDefault("memory.limit", 100)
	viper.SetDefault("memory.top_k", 5)

	viper.SetEnvPrefix("engram")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath("$HOME/.engram")
	}

	// A missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()

	logging.Setup(logLevel)
}

var longRoot = `
engram consolidates conversation text into long-term agent memory. Facts
land in a similarity-searchable store, entities and their relationships in
a graph, with a reasoning model deciding what to add, update or delete.
`
