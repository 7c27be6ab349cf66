package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/engramlabs/engram/pkg/provider"
)

// GraphEngine consolidates entity/relationship memories: it extracts
// structure from free text via the reasoning oracle, reconciles it against
// the persisted graph, and applies oracle-mediated deletions before any
// insertion.
type GraphEngine struct {
	store    GraphStore
	oracle   provider.Interface
	embedder provider.Embedder
	config   Config
}

func NewGraphEngine(
	store GraphStore,
	oracle provider.Interface,
	embedder provider.Embedder,
	config Config,
) *GraphEngine {
	return &GraphEngine{
		store:    store,
		oracle:   oracle,
		embedder: embedder,
		config:   config.withDefaults(),
	}
}

// Initialize provisions the backing store; callers await it before issuing
// any other operation.
func (engine *GraphEngine) Initialize(ctx context.Context) error {
	return engine.store.Initialize(ctx)
}

// Add runs the consolidation pipeline for one piece of text. Oracle
// degradation at extraction or derivation degrades to an empty result;
// store write failures abort the call.
func (engine *GraphEngine) Add(ctx context.Context, text string, scope Scope) (AddResult, error) {
	if err := scope.Validate(); err != nil {
		return AddResult{}, err
	}

	entityTypes := engine.extractEntities(ctx, text, scope)
	proposed := engine.deriveRelations(ctx, text, scope, entityTypes)
	engine.classifyPrivacy(ctx, text, proposed)

	neighbors := engine.fetchNeighbors(ctx, scope, entityNames(entityTypes), engine.config.Limit)

	result := AddResult{}

	for _, stale := range engine.resolveConflicts(ctx, text, neighbors) {
		if err := engine.store.DeleteRelation(ctx, scope, stale.Source, stale.Relationship, stale.Target); err != nil {
			return AddResult{}, fmt.Errorf("deleting relation: %w", err)
		}
		result.Deleted = append(result.Deleted, stale)
	}

	for _, triple := range proposed {
		inserted, err := engine.insertRelation(ctx, scope, triple, entityTypes)
		if err != nil {
			return AddResult{}, err
		}
		if inserted {
			result.Added = append(result.Added, triple)
		}
	}

	return result, nil
}

// SearchOptions bound one graph search.
type SearchOptions struct {
	// Limit caps the pre-rerank candidate pool; 0 means the configured
	// default. The post-rerank result count is always the engine's TopK.
	Limit int

	// FilterPrivate excludes relations flagged private.
	FilterPrivate bool
}

// Search finds the relations most relevant to the query: neighbor retrieval
// per mentioned entity, optional privacy filtering, then lexical reranking.
func (engine *GraphEngine) Search(ctx context.Context, query string, scope Scope, opts SearchOptions) ([]Triple, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = engine.config.Limit
	}

	entityTypes := engine.extractEntities(ctx, query, scope)
	candidates := engine.fetchNeighbors(ctx, scope, entityNames(entityTypes), limit)

	if opts.FilterPrivate {
		candidates = filterPrivate(candidates)
	}

	return RerankTriples(candidates, query, engine.config.TopK), nil
}

// GetAll returns every relation whose source entity belongs to the scope.
func (engine *GraphEngine) GetAll(ctx context.Context, scope Scope, limit int, excludePrivate bool) ([]Triple, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = engine.config.Limit
	}

	triples, err := engine.store.RelationsInScope(ctx, scope, limit)
	if err != nil {
		return nil, err
	}

	if excludePrivate {
		triples = filterPrivate(triples)
	}

	return triples, nil
}

// DeleteAll wipes the scope's relations and then its entities.
func (engine *GraphEngine) DeleteAll(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return engine.store.DeleteScope(ctx, scope)
}

// extractEntities asks the oracle for the entity→type map. Malformed or
// absent tool output yields an empty map, not an error.
func (engine *GraphEngine) extractEntities(ctx context.Context, text string, scope Scope) map[string]string {
	var parsed struct {
		Entities []struct {
			Entity     string `json:"entity"`
			EntityType string `json:"entity_type"`
		} `json:"entities"`
	}

	ok := engine.callTool(ctx,
		fmt.Sprintf(extractEntitiesSystem, scope.OwnerID()),
		text,
		extractEntitiesTool(),
		&parsed,
	)
	if !ok {
		return map[string]string{}
	}

	out := make(map[string]string, len(parsed.Entities))
	for _, entity := range parsed.Entities {
		name := ResolveSelfReference(NormalizeToken(entity.Entity), scope.OwnerID())
		if name == "" {
			continue
		}
		out[name] = NormalizeToken(entity.EntityType)
	}

	return out
}

// deriveRelations asks the oracle for relation tuples seeded with the
// extracted entity list; a custom prompt fragment is appended when
// configured.
func (engine *GraphEngine) deriveRelations(ctx context.Context, text string, scope Scope, entityTypes map[string]string) []Triple {
	system := fmt.Sprintf(establishRelationsSystem, scope.OwnerID())
	if engine.config.CustomExtractionPrompt != "" {
		system += "\n" + engine.config.CustomExtractionPrompt
	}

	user := fmt.Sprintf("Entities: %v\n\nText: %s", entityNames(entityTypes), text)

	var parsed struct {
		Entities []struct {
			Source       string `json:"source"`
			Relationship string `json:"relationship"`
			Destination  string `json:"destination"`
		} `json:"entities"`
	}

	if !engine.callTool(ctx, system, user, establishRelationsTool(), &parsed) {
		return nil
	}

	seen := make(map[string]bool)
	out := make([]Triple, 0, len(parsed.Entities))

	for _, rel := range parsed.Entities {
		triple := Triple{
			Source:       ResolveSelfReference(NormalizeToken(rel.Source), scope.OwnerID()),
			Relationship: NormalizeToken(rel.Relationship),
			Target:       ResolveSelfReference(NormalizeToken(rel.Destination), scope.OwnerID()),
		}

		if triple.Source == "" || triple.Relationship == "" || triple.Target == "" {
			continue
		}
		if seen[triple.Key()] {
			continue
		}

		seen[triple.Key()] = true
		out = append(out, triple)
	}

	return out
}

// classifyPrivacy labels the proposed relations in one batched oracle call.
// On oracle failure every flag defaults to false: the policy fails open so
// a degraded classifier never hides memories from their owner.
func (engine *GraphEngine) classifyPrivacy(ctx context.Context, text string, proposed []Triple) {
	if len(proposed) == 0 {
		return
	}

	var lines string
	for i, t := range proposed {
		lines += fmt.Sprintf("%d. %s -- %s -- %s\n", i, t.Source, t.Relationship, t.Target)
	}

	var parsed struct {
		Flags []struct {
			Index     int  `json:"index"`
			IsPrivate bool `json:"is_private"`
		} `json:"flags"`
	}

	user := fmt.Sprintf("Original text: %s\n\nFacts:\n%s", text, lines)

	if !engine.callTool(ctx, classifyPrivacySystem, user, classifyPrivacyTool(), &parsed) {
		return
	}

	for _, flag := range parsed.Flags {
		if flag.Index >= 0 && flag.Index < len(proposed) {
			proposed[flag.Index].Private = flag.IsPrivate
		}
	}
}

// fetchNeighbors embeds every mentioned entity and retrieves its nearest
// existing relations, fanning out across entities. Each embedding call is
// bounded by the configured timeout; a failed or timed-out embedding skips
// only that entity's lookup.
func (engine *GraphEngine) fetchNeighbors(ctx context.Context, scope Scope, names []string, limit int) []Triple {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		gathered []Triple
	)

	for _, name := range names {
		wg.Add(1)

		go func(name string) {
			defer wg.Done()

			embedding, err := engine.embed(ctx, name)
			if err != nil {
				log.Warn("skipping neighbor lookup", "entity", name, "error", err)
				return
			}

			triples, err := engine.store.NeighborRelations(
				ctx, scope, embedding, engine.config.SimilarityThreshold, limit,
			)
			if err != nil {
				log.Warn("neighbor lookup failed", "entity", name, "error", err)
				return
			}

			mu.Lock()
			gathered = append(gathered, triples...)
			mu.Unlock()
		}(name)
	}

	wg.Wait()

	return dedupeTriples(gathered)
}

// resolveConflicts asks the oracle which existing relations the new text
// makes obsolete. Deletions are never inferred locally; a degraded oracle
// means nothing is deleted.
func (engine *GraphEngine) resolveConflicts(ctx context.Context, text string, neighbors []Triple) []Triple {
	if len(neighbors) == 0 {
		return nil
	}

	system := resolveConflictsSystem
	if engine.config.CustomDeletePrompt != "" {
		system = engine.config.CustomDeletePrompt
	}

	user := fmt.Sprintf("Existing facts:\n%s\n\nNew information: %s", renderTriples(neighbors), text)

	var parsed struct {
		Relations []struct {
			Source       string `json:"source"`
			Relationship string `json:"relationship"`
			Destination  string `json:"destination"`
		} `json:"relations"`
	}

	if !engine.callTool(ctx, system, user, resolveConflictsTool(), &parsed) {
		return nil
	}

	known := make(map[string]Triple, len(neighbors))
	for _, t := range neighbors {
		known[t.Key()] = t
	}

	out := make([]Triple, 0, len(parsed.Relations))
	for _, rel := range parsed.Relations {
		triple := Triple{
			Source:       NormalizeToken(rel.Source),
			Relationship: NormalizeToken(rel.Relationship),
			Target:       NormalizeToken(rel.Destination),
		}
		// Only delete relations that were actually presented as candidates.
		if existing, ok := known[triple.Key()]; ok {
			out = append(out, existing)
		}
	}

	return out
}

// insertRelation resolves or creates both endpoints and upserts the
// relation. Endpoint embeddings are fetched concurrently; an embedding
// failure skips this relation, a store failure aborts the call.
func (engine *GraphEngine) insertRelation(ctx context.Context, scope Scope, triple Triple, entityTypes map[string]string) (bool, error) {
	sourceType, ok := entityTypes[triple.Source]
	if !ok || sourceType == "" {
		// Unresolved source types default to "known" while destinations
		// default to "unknown"; asymmetric on purpose, the values are
		// observable and callers depend on them.
		sourceType = "known"
	}
	targetType, ok := entityTypes[triple.Target]
	if !ok || targetType == "" {
		targetType = "unknown"
	}

	var (
		wg                   sync.WaitGroup
		sourceVec, targetVec []float32
		sourceErr, targetErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sourceVec, sourceErr = engine.embed(ctx, triple.Source)
	}()
	go func() {
		defer wg.Done()
		targetVec, targetErr = engine.embed(ctx, triple.Target)
	}()
	wg.Wait()

	if sourceErr != nil || targetErr != nil {
		log.Warn("skipping relation, endpoint embedding failed",
			"source", triple.Source, "target", triple.Target,
			"sourceError", sourceErr, "targetError", targetErr)
		return false, nil
	}

	if err := engine.store.UpsertEntity(ctx, scope, Entity{
		Name: triple.Source, Type: sourceType, Embedding: sourceVec,
	}); err != nil {
		return false, fmt.Errorf("upserting source entity: %w", err)
	}

	if err := engine.store.UpsertEntity(ctx, scope, Entity{
		Name: triple.Target, Type: targetType, Embedding: targetVec,
	}); err != nil {
		return false, fmt.Errorf("upserting target entity: %w", err)
	}

	if err := engine.store.UpsertRelation(ctx, scope, Relation{
		Source:   triple.Source,
		Target:   triple.Target,
		Type:     triple.Relationship,
		Metadata: map[string]any{"isPrivate": triple.Private},
	}); err != nil {
		return false, fmt.Errorf("upserting relation: %w", err)
	}

	return true, nil
}

// embed runs one embedding call under the configured per-call timeout.
func (engine *GraphEngine) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, engine.config.EmbedTimeout)
	defer cancel()

	return engine.embedder.Embed(ctx, text)
}

// callTool runs one oracle request declaring a single tool and decodes the
// returned arguments. Any failure, malformed output included, is logged
// and reported as not-ok so the caller can substitute its default.
func (engine *GraphEngine) callTool(ctx context.Context, system, user string, tool provider.Tool, out any) bool {
	response, err := engine.oracle.Generate(ctx, &provider.ProviderParams{
		Model: engine.config.Model,
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Tools: []provider.Tool{tool},
	})
	if err != nil {
		log.Warn("oracle call failed", "tool", tool.Name, "error", err)
		return false
	}

	for _, call := range response.ToolCalls {
		if call.Name != tool.Name {
			continue
		}
		if err := json.Unmarshal([]byte(call.Arguments), out); err != nil {
			log.Warn("malformed tool arguments", "tool", tool.Name, "error", err)
			return false
		}
		return true
	}

	log.Debug("oracle returned no tool call", "tool", tool.Name)
	return false
}

func entityNames(entityTypes map[string]string) []string {
	names := make([]string, 0, len(entityTypes))
	for name := range entityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func filterPrivate(triples []Triple) []Triple {
	out := make([]Triple, 0, len(triples))
	for _, t := range triples {
		if !t.Private {
			out = append(out, t)
		}
	}
	return out
}

func dedupeTriples(triples []Triple) []Triple {
	seen := make(map[string]bool, len(triples))
	out := make([]Triple, 0, len(triples))

	for _, t := range triples {
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		out = append(out, t)
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Similarity > out[b].Similarity
	})

	return out
}
