package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/engramlabs/engram/pkg/errors"
	"github.com/engramlabs/engram/pkg/utils"
)

// InMemoryGraphStore keeps the entity graph in process memory. It backs the
// default backend and the engine tests; semantics mirror the persistent
// stores, scoping included.
type InMemoryGraphStore struct {
	mu        sync.RWMutex
	entities  map[string]map[string]Entity
	relations map[string]map[string]storedRelation
}

type storedRelation struct {
	Relation
	key string
}

func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		entities:  make(map[string]map[string]Entity),
		relations: make(map[string]map[string]storedRelation),
	}
}

func (store *InMemoryGraphStore) Initialize(ctx context.Context) error {
	return nil
}

func (store *InMemoryGraphStore) UpsertEntity(ctx context.Context, scope Scope, entity Entity) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	owner := scope.OwnerID()
	if store.entities[owner] == nil {
		store.entities[owner] = make(map[string]Entity)
	}

	now := time.Now()

	if existing, ok := store.entities[owner][entity.Name]; ok {
		existing.Type = entity.Type
		existing.Embedding = entity.Embedding
		existing.UpdatedAt = &now
		store.entities[owner][entity.Name] = existing
		return nil
	}

	entity.CreatedAt = now
	store.entities[owner][entity.Name] = entity
	return nil
}

func (store *InMemoryGraphStore) UpsertRelation(ctx context.Context, scope Scope, relation Relation) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	owner := scope.OwnerID()
	if store.relations[owner] == nil {
		store.relations[owner] = make(map[string]storedRelation)
	}

	key := relationKey(relation.Source, relation.Type, relation.Target)
	now := time.Now()

	if existing, ok := store.relations[owner][key]; ok {
		existing.Metadata = relation.Metadata
		existing.UpdatedAt = &now
		store.relations[owner][key] = existing
		return nil
	}

	relation.CreatedAt = now
	store.relations[owner][key] = storedRelation{Relation: relation, key: key}
	return nil
}

func (store *InMemoryGraphStore) DeleteRelation(ctx context.Context, scope Scope, source, relationship, target string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.relations[scope.OwnerID()], relationKey(source, relationship, target))
	return nil
}

// NeighborRelations returns the relations touching any scoped entity whose
// embedding clears the similarity threshold against the probe vector.
func (store *InMemoryGraphStore) NeighborRelations(ctx context.Context, scope Scope, embedding []float32, threshold float64, limit int) ([]Triple, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	owner := scope.OwnerID()

	similar := make(map[string]float64)
	for name, entity := range store.entities[owner] {
		if score := utils.Cosine(embedding, entity.Embedding); score >= threshold {
			similar[name] = score
		}
	}

	var triples []Triple
	for _, rel := range store.relations[owner] {
		score, sourceHit := similar[rel.Source]
		if !sourceHit {
			var targetHit bool
			score, targetHit = similar[rel.Target]
			if !targetHit {
				continue
			}
		}

		triples = append(triples, Triple{
			Source:       rel.Source,
			Relationship: rel.Type,
			Target:       rel.Target,
			Private:      isPrivate(rel.Metadata),
			Similarity:   score,
		})
	}

	sort.SliceStable(triples, func(a, b int) bool {
		if triples[a].Similarity == triples[b].Similarity {
			return triples[a].Key() < triples[b].Key()
		}
		return triples[a].Similarity > triples[b].Similarity
	})

	if limit > 0 && len(triples) > limit {
		triples = triples[:limit]
	}

	return triples, nil
}

func (store *InMemoryGraphStore) RelationsInScope(ctx context.Context, scope Scope, limit int) ([]Triple, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	relations := make([]storedRelation, 0, len(store.relations[scope.OwnerID()]))
	for _, rel := range store.relations[scope.OwnerID()] {
		relations = append(relations, rel)
	}

	sort.SliceStable(relations, func(a, b int) bool {
		if relations[a].CreatedAt.Equal(relations[b].CreatedAt) {
			return relations[a].key < relations[b].key
		}
		return relations[a].CreatedAt.After(relations[b].CreatedAt)
	})

	if limit > 0 && len(relations) > limit {
		relations = relations[:limit]
	}

	triples := make([]Triple, 0, len(relations))
	for _, rel := range relations {
		triples = append(triples, Triple{
			Source:       rel.Source,
			Relationship: rel.Type,
			Target:       rel.Target,
			Private:      isPrivate(rel.Metadata),
		})
	}

	return triples, nil
}

// DeleteScope drops the scope's relations before its entities so a failure
// between the two never strands edges without endpoints.
func (store *InMemoryGraphStore) DeleteScope(ctx context.Context, scope Scope) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.relations, scope.OwnerID())
	delete(store.entities, scope.OwnerID())
	return nil
}

func (store *InMemoryGraphStore) Ping(ctx context.Context) error {
	return nil
}

func relationKey(source, relationship, target string) string {
	return source + "\x00" + relationship + "\x00" + target
}

func isPrivate(metadata map[string]any) bool {
	private, _ := metadata["isPrivate"].(bool)
	return private
}

// InMemoryVectorStore is the process-local similarity store. Rows are
// scored with exact cosine similarity; listing follows the persistent
// adapter's newest-first contract.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	ownerID string
}

func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		records: make(map[string]Record),
	}
}

func (store *InMemoryVectorStore) Initialize(ctx context.Context) error {
	return nil
}

func (store *InMemoryVectorStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	for _, record := range records {
		if _, exists := store.records[record.ID]; !exists {
			store.order = append(store.order, record.ID)
		}
		store.records[record.ID] = cloneRecord(record)
	}

	return nil
}

func (store *InMemoryVectorStore) Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var matches []Record
	for _, id := range store.order {
		record, ok := store.records[id]
		if !ok || !matchesFilters(record.Payload, filters) {
			continue
		}

		record.Score = float32(utils.Cosine(vector, record.Vector))
		matches = append(matches, cloneRecord(record))
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

func (store *InMemoryVectorStore) Get(ctx context.Context, id string) (Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.records[id]
	if !ok {
		return Record{}, errors.ErrNotFound
	}

	return cloneRecord(record), nil
}

// Update merges the payload into the stored record and replaces the vector
// when one is given.
func (store *InMemoryVectorStore) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]
	if !ok {
		return errors.ErrNotFound
	}

	if vector != nil {
		record.Vector = vector
	}

	if record.Payload == nil {
		record.Payload = make(map[string]any)
	}
	for key, value := range payload {
		record.Payload[key] = value
	}

	store.records[id] = record
	return nil
}

func (store *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.records[id]; !ok {
		return errors.ErrNotFound
	}

	delete(store.records, id)
	for i, stored := range store.order {
		if stored == id {
			store.order = append(store.order[:i], store.order[i+1:]...)
			break
		}
	}

	return nil
}

func (store *InMemoryVectorStore) List(ctx context.Context, filters map[string]string, limit int) ([]Record, int, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var matches []Record
	for _, id := range store.order {
		record, ok := store.records[id]
		if ok && matchesFilters(record.Payload, filters) {
			matches = append(matches, cloneRecord(record))
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return createdAt(matches[a].Payload).After(createdAt(matches[b].Payload))
	})

	total := len(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, total, nil
}

func (store *InMemoryVectorStore) Reset(ctx context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.records = make(map[string]Record)
	store.order = nil
	return nil
}

func (store *InMemoryVectorStore) OwnerID(ctx context.Context) (string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.ownerID == "" {
		return "", errors.ErrNotFound
	}
	return store.ownerID, nil
}

func (store *InMemoryVectorStore) SetOwnerID(ctx context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.ownerID = id
	return nil
}

func (store *InMemoryVectorStore) Ping(ctx context.Context) error {
	return nil
}

func matchesFilters(payload map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		got, _ := payload[key].(string)
		if got != want {
			return false
		}
	}
	return true
}

func createdAt(payload map[string]any) time.Time {
	raw, _ := payload["created_at"].(string)
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func cloneRecord(record Record) Record {
	clone := record

	clone.Vector = append([]float32(nil), record.Vector...)

	if record.Payload != nil {
		clone.Payload = make(map[string]any, len(record.Payload))
		for key, value := range record.Payload {
			clone.Payload[key] = value
		}
	}

	return clone
}
