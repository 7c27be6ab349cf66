package memory

import "context"

// GraphStore persists scoped entities and relations and answers
// embedding-driven neighbor queries. Implementations provision their schema
// in Initialize and fail fast there, never during construction.
type GraphStore interface {
	Initialize(ctx context.Context) error
	UpsertEntity(ctx context.Context, scope Scope, entity Entity) error
	UpsertRelation(ctx context.Context, scope Scope, relation Relation) error
	DeleteRelation(ctx context.Context, scope Scope, source, relationship, target string) error
	NeighborRelations(ctx context.Context, scope Scope, embedding []float32, threshold float64, limit int) ([]Triple, error)
	RelationsInScope(ctx context.Context, scope Scope, limit int) ([]Triple, error)
	DeleteScope(ctx context.Context, scope Scope) error
	Ping(ctx context.Context) error
}

// Record is one vector-bearing row in the similarity store.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any
	Score   float32
}

// VectorStore is the similarity store adapter: CRUD plus nearest-neighbor
// search over one collection, filtered by scope-field equality. List with a
// non-positive limit returns every matching record.
type VectorStore interface {
	Initialize(ctx context.Context) error
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, vector []float32, payload map[string]any) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filters map[string]string, limit int) ([]Record, int, error)
	Reset(ctx context.Context) error
	OwnerID(ctx context.Context) (string, error)
	SetOwnerID(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
