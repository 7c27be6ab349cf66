// Package neo4j persists the entity graph in a Neo4j database, one Entity
// node per (name, owner) pair and one typed edge per relation.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"

	"github.com/engramlabs/engram/pkg/errors"
	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/utils"
)

// Config carries the connection settings; nothing is read from the
// environment or from package globals.
type Config struct {
	URI      string
	Username string
	Password string

	// Dimension sizes the vector index; it must match the embedder.
	Dimension int
}

type Store struct {
	driver neo4j.Driver
	config Config
}

// New connects the driver. Schema provisioning happens in Initialize, not
// here; construction performs no I/O beyond driver setup.
func New(config Config) (*Store, error) {
	driver, err := neo4j.NewDriver(
		config.URI,
		neo4j.BasicAuth(config.Username, config.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	return &Store{driver: driver, config: config}, nil
}

// NewWithDriver wraps an externally managed driver.
func NewWithDriver(driver neo4j.Driver, config Config) *Store {
	return &Store{driver: driver, config: config}
}

// Initialize provisions the uniqueness constraint and the embedding index,
// failing fast when the database is unreachable or refuses the schema. The
// index is read back afterwards: CREATE ... IF NOT EXISTS keeps whatever
// index already exists, so a dimension mismatch only shows up through
// introspection.
func (store *Store) Initialize(ctx context.Context) error {
	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, createEntityConstraint, nil); err != nil {
			return nil, fmt.Errorf("creating entity constraint: %w", err)
		}

		indexQuery := fmt.Sprintf(createEmbeddingIndexTemplate, store.config.Dimension)
		if _, err := tx.Run(ctx, indexQuery, nil); err != nil {
			return nil, fmt.Errorf("creating embedding index: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	return store.verifyEmbeddingIndex(ctx)
}

func (store *Store) verifyEmbeddingIndex(ctx context.Context) error {
	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, showEmbeddingIndexQuery, nil)
		if err != nil {
			return nil, err
		}

		dimension := 0
		if res.Next(ctx) {
			if options, ok := res.Record().Get("options"); ok {
				if fields, ok := options.(map[string]any); ok {
					dimension = indexDimension(fields)
				}
			}
		}

		return dimension, res.Err()
	})
	if err != nil {
		return fmt.Errorf("describing embedding index: %w", err)
	}

	return store.checkIndexDimension(result.(int))
}

// checkIndexDimension compares the live index dimension against the
// configured one. Zero means the index could not be introspected, which is
// left to surface through query behavior rather than a false alarm.
func (store *Store) checkIndexDimension(got int) error {
	if got != 0 && got != store.config.Dimension {
		return &errors.SchemaError{
			Collection: "entity_embedding",
			Property:   "vector.dimensions",
			Want:       store.config.Dimension,
			Got:        got,
		}
	}

	return nil
}

// indexDimension digs vector.dimensions out of a SHOW INDEXES options map.
// The driver may deliver the number as an integer or a float.
func indexDimension(options map[string]any) int {
	config, _ := options["indexConfig"].(map[string]any)

	switch value := config["vector.dimensions"].(type) {
	case int64:
		return int(value)
	case float64:
		return int(value)
	case int:
		return value
	}

	return 0
}

func (store *Store) UpsertEntity(ctx context.Context, scope memory.Scope, entity memory.Entity) error {
	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, upsertEntityQuery, map[string]any{
			"name":      entity.Name,
			"owner_id":  scope.OwnerID(),
			"type":      entity.Type,
			"embedding": utils.ConvertToFloat64(entity.Embedding),
			"now":       time.Now().UTC().Format(time.RFC3339),
		})
	})

	return err
}

func (store *Store) UpsertRelation(ctx context.Context, scope memory.Scope, relation memory.Relation) error {
	cypher, err := relationCypher(upsertRelationTemplate, relation.Type)
	if err != nil {
		return err
	}

	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	isPrivate, _ := relation.Metadata["isPrivate"].(bool)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, map[string]any{
			"source":     relation.Source,
			"target":     relation.Target,
			"owner_id":   scope.OwnerID(),
			"is_private": isPrivate,
			"now":        time.Now().UTC().Format(time.RFC3339),
		})
	})

	return err
}

func (store *Store) DeleteRelation(ctx context.Context, scope memory.Scope, source, relationship, target string) error {
	cypher, err := relationCypher(deleteRelationTemplate, relationship)
	if err != nil {
		return err
	}

	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, map[string]any{
			"source":   source,
			"target":   target,
			"owner_id": scope.OwnerID(),
		})
	})

	return err
}

// NeighborRelations returns the relations touching entities whose embedding
// clears the threshold against the probe vector, best match first.
func (store *Store) NeighborRelations(ctx context.Context, scope memory.Scope, embedding []float32, threshold float64, limit int) ([]memory.Triple, error) {
	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, neighborRelationsQuery, map[string]any{
			"owner_id":  scope.OwnerID(),
			"embedding": utils.ConvertToFloat64(embedding),
			"threshold": threshold,
			"limit":     limit,
		})
		if err != nil {
			return nil, err
		}

		return collectTriples(ctx, res, true)
	})
	if err != nil {
		return nil, err
	}

	return result.([]memory.Triple), nil
}

func (store *Store) RelationsInScope(ctx context.Context, scope memory.Scope, limit int) ([]memory.Triple, error) {
	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, relationsInScopeQuery, map[string]any{
			"owner_id": scope.OwnerID(),
			"limit":    limit,
		})
		if err != nil {
			return nil, err
		}

		return collectTriples(ctx, res, false)
	})
	if err != nil {
		return nil, err
	}

	return result.([]memory.Triple), nil
}

// DeleteScope removes the scope's relations first, then its entities, so an
// interruption between the two statements never leaves dangling edges.
func (store *Store) DeleteScope(ctx context.Context, scope memory.Scope) error {
	session := store.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"owner_id": scope.OwnerID()}

		if _, err := tx.Run(ctx, deleteScopeRelationsQuery, params); err != nil {
			return nil, fmt.Errorf("deleting scope relations: %w", err)
		}
		if _, err := tx.Run(ctx, deleteScopeEntitiesQuery, params); err != nil {
			return nil, fmt.Errorf("deleting scope entities: %w", err)
		}

		return nil, nil
	})

	return err
}

func (store *Store) Ping(ctx context.Context) error {
	return store.driver.VerifyConnectivity(ctx)
}

func (store *Store) Close(ctx context.Context) error {
	return store.driver.Close(ctx)
}

// cypherResult is the slice of the driver result the collectors need.
type cypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

func collectTriples(ctx context.Context, res cypherResult, withSimilarity bool) ([]memory.Triple, error) {
	var triples []memory.Triple

	for res.Next(ctx) {
		record := res.Record()

		triple := memory.Triple{
			Source:       stringValue(record, "source"),
			Relationship: stringValue(record, "relationship"),
			Target:       stringValue(record, "target"),
		}

		if private, ok := record.Get("is_private"); ok {
			triple.Private, _ = private.(bool)
		}

		if withSimilarity {
			if similarity, ok := record.Get("similarity"); ok {
				triple.Similarity, _ = similarity.(float64)
			}
		}

		triples = append(triples, triple)
	}

	return triples, res.Err()
}

func stringValue(record *neo4j.Record, key string) string {
	value, _ := record.Get(key)
	text, _ := value.(string)
	return text
}
