package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/provider"
	"github.com/engramlabs/engram/pkg/stores/neo4j"
	"github.com/engramlabs/engram/pkg/stores/qdrant"
	"github.com/engramlabs/engram/pkg/tools"
)

// buildService wires the configured oracle, embedder and stores into the
// two engines and initializes both stores before returning.
func buildService(ctx context.Context) (*tools.Service, error) {
	oracle, embedder, err := buildProvider()
	if err != nil {
		return nil, err
	}

	graphStore, err := buildGraphStore()
	if err != nil {
		return nil, err
	}

	vectorStore, err := buildVectorStore()
	if err != nil {
		return nil, err
	}

	config := memory.Config{
		Model:               viper.GetString("provider.model"),
		SimilarityThreshold: viper.GetFloat64("memory.similarity_threshold"),
		Limit:               viper.GetInt("memory.limit"),
		TopK:                viper.GetInt("memory.top_k"),
		EmbedTimeout:        viper.GetDuration("memory.embed_timeout"),
	}

	service := &tools.Service{
		Graph: memory.NewGraphEngine(graphStore, oracle, embedder, config),
		Flat:  memory.NewFlatEngine(vectorStore, oracle, embedder, config),
	}

	if err := service.Graph.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing graph store: %w", err)
	}
	if err := service.Flat.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	return service, nil
}

func buildProvider() (provider.Interface, provider.Embedder, error) {
	embedderModel := viper.GetString("embedder.model")

	switch name := viper.GetString("provider.name"); name {
	case "openai":
		var opts []provider.OpenAIEmbedderOption
		if embedderModel != "" {
			opts = append(opts, provider.WithOpenAIEmbedderModel(embedderModel))
		}
		return provider.NewOpenAIProvider(), provider.NewOpenAIEmbedder(opts...), nil

	case "anthropic":
		// Anthropic has no embeddings endpoint; pair it with the OpenAI
		// embedder.
		var opts []provider.OpenAIEmbedderOption
		if embedderModel != "" {
			opts = append(opts, provider.WithOpenAIEmbedderModel(embedderModel))
		}
		return provider.NewAnthropicProvider(), provider.NewOpenAIEmbedder(opts...), nil

	case "ollama":
		var opts []provider.OllamaEmbedderOption
		if embedderModel != "" {
			opts = append(opts, provider.WithOllamaEmbedderModel(embedderModel))
		}
		return provider.NewOllamaProvider(), provider.NewOllamaEmbedder(opts...), nil

	case "mock":
		return provider.NewMockProvider(), provider.NewMockEmbedder(viper.GetInt("embedder.dimension")), nil

	default:
		return nil, nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

func buildGraphStore() (memory.GraphStore, error) {
	switch backend := viper.GetString("graph.backend"); backend {
	case "memory":
		return memory.NewInMemoryGraphStore(), nil

	case "neo4j":
		return neo4j.New(neo4j.Config{
			URI:       viper.GetString("neo4j.uri"),
			Username:  viper.GetString("neo4j.username"),
			Password:  viper.GetString("neo4j.password"),
			Dimension: viper.GetInt("embedder.dimension"),
		})

	default:
		return nil, fmt.Errorf("unsupported graph backend: %s", backend)
	}
}

func buildVectorStore() (memory.VectorStore, error) {
	switch backend := viper.GetString("vector.backend"); backend {
	case "memory":
		return memory.NewInMemoryVectorStore(), nil

	case "qdrant":
		return qdrant.New(qdrant.Config{
			Endpoint:   viper.GetString("qdrant.endpoint"),
			Collection: viper.GetString("qdrant.collection"),
			APIKey:     viper.GetString("qdrant.api_key"),
			Dimension:  viper.GetInt("embedder.dimension"),
		}), nil

	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", backend)
	}
}

// scopeFlags carries the owner identifiers every memory command accepts.
type scopeFlags struct {
	userID  string
	agentID string
	runID   string
	actorID string
}

func (flags *scopeFlags) scope() memory.Scope {
	return memory.Scope{
		UserID:  flags.userID,
		AgentID: flags.agentID,
		RunID:   flags.runID,
		ActorID: flags.actorID,
	}
}
