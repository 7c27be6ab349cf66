// Package memory implements the consolidation engines that reconcile
// oracle-extracted facts and entity graphs against a persisted,
// embedding-indexed store.
package memory

import (
	"time"

	"github.com/engramlabs/engram/pkg/errors"
)

// Scope is the owner tuple that partitions all records into isolated
// tenants. At least one identifier must be set.
type Scope struct {
	UserID  string
	AgentID string
	RunID   string
	ActorID string
	Role    string
}

// Validate rejects scopes with no owner identifier before any oracle or
// store call is made.
func (s Scope) Validate() error {
	if s.OwnerID() == "" {
		return errors.ErrMissingScope
	}
	return nil
}

// OwnerID returns the identifier self-references resolve to and graph
// records are keyed by: the first of user, agent, run, actor that is set.
func (s Scope) OwnerID() string {
	for _, id := range []string{s.UserID, s.AgentID, s.RunID, s.ActorID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// Filters renders the scope as the equality conjunction the similarity
// store applies. Empty fields are omitted.
func (s Scope) Filters() map[string]string {
	filters := make(map[string]string)

	for key, value := range map[string]string{
		"user_id":  s.UserID,
		"agent_id": s.AgentID,
		"run_id":   s.RunID,
		"actor_id": s.ActorID,
		"role":     s.Role,
	} {
		if value != "" {
			filters[key] = value
		}
	}

	return filters
}

// Entity is a graph node, unique per (name, owner). Its embedding is
// overwritten in place on re-mention; no history is kept.
type Entity struct {
	Name      string
	Type      string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Relation is a graph edge, unique per (source, target, type) within one
// owner scope. It carries no embedding of its own.
type Relation struct {
	Source    string
	Target    string
	Type      string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Triple is the flat projection of a relation used in results and in the
// conflict-resolution prompt.
type Triple struct {
	Source       string  `json:"source"`
	Relationship string  `json:"relationship"`
	Target       string  `json:"destination"`
	Private      bool    `json:"-"`
	Similarity   float64 `json:"-"`
}

// Key identifies the triple within a scope.
func (t Triple) Key() string {
	return t.Source + "\x00" + t.Relationship + "\x00" + t.Target
}

// AddResult reports what one graph Add call changed.
type AddResult struct {
	Added   []Triple
	Deleted []Triple
}

// Item is one flat memory record.
type Item struct {
	ID         string
	Content    string
	Hash       string
	Embedding  []float32
	Scope      Scope
	MemoryType string
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	Score      float32
}

// Event classifies what the flat engine did with one candidate.
type Event string

const (
	EventAdd    Event = "ADD"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventNone   Event = "NONE"
)

// ItemEvent pairs an applied decision with the record it touched.
type ItemEvent struct {
	Event Event
	ID    string
	Text  string
}

// Config carries every tunable the engines use; callers pass it explicitly
// instead of mutating package-level defaults.
type Config struct {
	// Model is the reasoning-oracle model identifier.
	Model string

	// SimilarityThreshold bounds neighbor retrieval (cosine).
	SimilarityThreshold float64

	// Limit caps the pre-rerank candidate pool per query.
	Limit int

	// TopK is the post-rerank result count for graph search.
	TopK int

	// EmbedTimeout bounds each individual embedding call.
	EmbedTimeout time.Duration

	// CustomExtractionPrompt, when set, is appended to the relation
	// derivation instructions.
	CustomExtractionPrompt string

	// CustomDeletePrompt, when set, replaces the default conflict
	// resolution instructions.
	CustomDeletePrompt string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Model:               "gpt-4o-mini",
		SimilarityThreshold: 0.7,
		Limit:               100,
		TopK:                5,
		EmbedTimeout:        10 * time.Second,
	}
}

// withDefaults fills zero values so a partially populated Config behaves.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()

	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if c.Limit == 0 {
		c.Limit = defaults.Limit
	}
	if c.TopK == 0 {
		c.TopK = defaults.TopK
	}
	if c.EmbedTimeout == 0 {
		c.EmbedTimeout = defaults.EmbedTimeout
	}

	return c
}
