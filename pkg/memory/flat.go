package memory

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/engramlabs/engram/pkg/errors"
	"github.com/engramlabs/engram/pkg/provider"
)

// FlatEngine consolidates free-form fact memories in the similarity store.
// Every mutation against an existing record is oracle-mediated; the engine
// itself only ever adds when the oracle is unreachable.
type FlatEngine struct {
	store    VectorStore
	oracle   provider.Interface
	embedder provider.Embedder
	config   Config
}

func NewFlatEngine(
	store VectorStore,
	oracle provider.Interface,
	embedder provider.Embedder,
	config Config,
) *FlatEngine {
	return &FlatEngine{
		store:    store,
		oracle:   oracle,
		embedder: embedder,
		config:   config.withDefaults(),
	}
}

func (engine *FlatEngine) Initialize(ctx context.Context) error {
	return engine.store.Initialize(ctx)
}

// Add reconciles one new fact against its nearest stored neighbors and
// applies the oracle's per-neighbor decisions. Embedding failure aborts the
// call; oracle failure degrades to a plain ADD.
func (engine *FlatEngine) Add(ctx context.Context, content string, scope Scope, metadata map[string]any) ([]ItemEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	vector, err := engine.embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}

	neighbors, err := engine.store.Search(ctx, vector, engine.config.Limit, scope.Filters())
	if err != nil {
		return nil, fmt.Errorf("searching neighbors: %w", err)
	}

	decisions := engine.decide(ctx, content, neighbors)

	known := make(map[string]bool, len(neighbors))
	for _, record := range neighbors {
		known[record.ID] = true
	}

	events := make([]ItemEvent, 0, len(decisions))

	for _, decision := range decisions {
		switch decision.Event {
		case EventAdd:
			text := decision.Text
			if text == "" {
				text = content
			}

			recordVector := vector
			if text != content {
				recordVector = nil
			}

			id, err := engine.insert(ctx, text, recordVector, scope, metadata)
			if err != nil {
				return events, err
			}
			events = append(events, ItemEvent{Event: EventAdd, ID: id, Text: text})

		case EventUpdate:
			if !known[decision.ID] {
				log.Warn("discarding decision for unknown memory", "event", decision.Event, "id", decision.ID)
				continue
			}
			if err := engine.update(ctx, decision.ID, decision.Text); err != nil {
				return events, err
			}
			events = append(events, ItemEvent{Event: EventUpdate, ID: decision.ID, Text: decision.Text})

		case EventDelete:
			if !known[decision.ID] {
				log.Warn("discarding decision for unknown memory", "event", decision.Event, "id", decision.ID)
				continue
			}
			if err := engine.store.Delete(ctx, decision.ID); err != nil {
				return events, fmt.Errorf("deleting memory %s: %w", decision.ID, err)
			}
			events = append(events, ItemEvent{Event: EventDelete, ID: decision.ID})

		case EventNone:
			// Explicit no-op; kept out of the result.

		default:
			log.Warn("discarding unrecognized decision", "event", decision.Event)
		}
	}

	return events, nil
}

// Search returns the stored facts nearest to the query within the scope.
func (engine *FlatEngine) Search(ctx context.Context, query string, scope Scope, limit int) ([]Item, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = engine.config.Limit
	}

	vector, err := engine.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	records, err := engine.store.Search(ctx, vector, limit, scope.Filters())
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(records))
	for _, record := range records {
		items = append(items, recordToItem(record))
	}

	return items, nil
}

// GetAll lists the scope's facts, newest first.
func (engine *FlatEngine) GetAll(ctx context.Context, scope Scope, limit int) ([]Item, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = engine.config.Limit
	}

	records, _, err := engine.store.List(ctx, scope.Filters(), limit)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(records))
	for _, record := range records {
		items = append(items, recordToItem(record))
	}

	return items, nil
}

// Delete removes one fact by id.
func (engine *FlatEngine) Delete(ctx context.Context, id string) error {
	return engine.store.Delete(ctx, id)
}

// DeleteAll removes every fact in the scope, one record at a time so the
// deletion never spills past the scope filter. Individual failures do not
// stop the sweep; they are aggregated and returned together.
func (engine *FlatEngine) DeleteAll(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	records, _, err := engine.store.List(ctx, scope.Filters(), 0)
	if err != nil {
		return err
	}

	var failed []any
	for _, record := range records {
		if err := engine.store.Delete(ctx, record.ID); err != nil {
			failed = append(failed, fmt.Errorf("deleting memory %s: %w", record.ID, err))
		}
	}

	if len(failed) > 0 {
		return errors.NewError(failed...)
	}

	return nil
}

type flatDecision struct {
	ID    string `json:"id"`
	Event Event  `json:"event"`
	Text  string `json:"text"`
}

// decide asks the oracle what the new fact changes. When the oracle fails
// or answers without the tool, the fact is simply added.
func (engine *FlatEngine) decide(ctx context.Context, content string, neighbors []Record) []flatDecision {
	fallback := []flatDecision{{Event: EventAdd, Text: content}}

	if len(neighbors) == 0 {
		return fallback
	}

	var existing string
	for _, record := range neighbors {
		text, _ := record.Payload["data"].(string)
		existing += fmt.Sprintf("id=%s: %s\n", record.ID, text)
	}

	user := fmt.Sprintf("Existing memories:\n%s\nNew fact: %s", existing, content)

	response, err := engine.oracle.Generate(ctx, &provider.ProviderParams{
		Model: engine.config.Model,
		Messages: []provider.Message{
			{Role: "system", Content: flatDecisionSystem},
			{Role: "user", Content: user},
		},
		Tools: []provider.Tool{flatDecisionTool()},
	})
	if err != nil {
		log.Warn("memory decision oracle failed, defaulting to add", "error", err)
		return fallback
	}

	for _, call := range response.ToolCalls {
		if call.Name != "memory_decision" {
			continue
		}

		var parsed struct {
			Actions []flatDecision `json:"actions"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &parsed); err != nil {
			log.Warn("malformed memory decision, defaulting to add", "error", err)
			return fallback
		}

		return parsed.Actions
	}

	return fallback
}

func (engine *FlatEngine) insert(ctx context.Context, text string, vector []float32, scope Scope, metadata map[string]any) (string, error) {
	// A nil vector marks oracle-rewritten text, which needs its own
	// embedding instead of the submission's.
	if vector == nil {
		rewritten, err := engine.embed(ctx, text)
		if err != nil {
			return "", fmt.Errorf("embedding rewritten text: %w", err)
		}
		vector = rewritten
	}

	payload := map[string]any{
		"data":       text,
		"hash":       contentHash(text),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range scope.Filters() {
		payload[key] = value
	}
	for key, value := range metadata {
		payload[key] = value
	}
	if _, ok := payload["memory_type"]; !ok {
		payload["memory_type"] = "fact"
	}

	id := uuid.NewString()

	if err := engine.store.Insert(ctx, []Record{{ID: id, Vector: vector, Payload: payload}}); err != nil {
		return "", fmt.Errorf("inserting memory: %w", err)
	}

	return id, nil
}

func (engine *FlatEngine) update(ctx context.Context, id, text string) error {
	vector, err := engine.embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding replacement text: %w", err)
	}

	payload := map[string]any{
		"data":       text,
		"hash":       contentHash(text),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}

	if err := engine.store.Update(ctx, id, vector, payload); err != nil {
		return fmt.Errorf("updating memory %s: %w", id, err)
	}

	return nil
}

func (engine *FlatEngine) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, engine.config.EmbedTimeout)
	defer cancel()

	return engine.embedder.Embed(ctx, text)
}

func contentHash(text string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(text)))
}

func recordToItem(record Record) Item {
	item := Item{
		ID:       record.ID,
		Score:    record.Score,
		Metadata: map[string]any{},
	}

	scopeKeys := map[string]*string{
		"user_id":  &item.Scope.UserID,
		"agent_id": &item.Scope.AgentID,
		"run_id":   &item.Scope.RunID,
		"actor_id": &item.Scope.ActorID,
		"role":     &item.Scope.Role,
	}

	for key, value := range record.Payload {
		switch key {
		case "data":
			item.Content, _ = value.(string)
		case "hash":
			item.Hash, _ = value.(string)
		case "memory_type":
			item.MemoryType, _ = value.(string)
		case "created_at":
			if raw, ok := value.(string); ok {
				if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
					item.CreatedAt = parsed
				}
			}
		case "updated_at":
			if raw, ok := value.(string); ok {
				if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
					item.UpdatedAt = &parsed
				}
			}
		default:
			if target, ok := scopeKeys[key]; ok {
				*target, _ = value.(string)
			} else {
				item.Metadata[key] = value
			}
		}
	}

	return item
}
