package memory

import (
	"fmt"
	"strings"

	"github.com/engramlabs/engram/pkg/provider"
)

// Each pipeline stage declares exactly one tool; the oracle's answer is the
// arguments of that tool call.

const extractEntitiesSystem = `You are an entity extraction system. Extract
every entity mentioned in the text together with a short type label such as
person, organization, location or concept. Refer to the speaker as %s, never
as a separate entity for "I", "me" or "my".`

const establishRelationsSystem = `You are a knowledge graph builder. Given a
list of entities and a piece of text, derive the relationships the text
states between those entities. Use short snake_case relationship names.
Refer to the speaker as %s.`

const classifyPrivacySystem = `You classify relationship facts for privacy
sensitivity. A fact is private when it exposes contact details, credentials,
health, finances or other personally sensitive information. Return one flag
per numbered fact.`

const resolveConflictsSystem = `You maintain a knowledge graph. Compare the
existing facts with the new information and list only the existing facts
that are outdated or directly contradicted. Never delete a fact merely
because a new one shares its relationship type with a different destination:
two facts that can be true at the same time must both remain.`

const flatDecisionSystem = `You maintain a list of remembered facts. Compare
the new fact with each numbered existing memory and decide, per memory,
whether the new fact should be added as new (ADD, id empty), should replace
that memory's text (UPDATE), makes that memory obsolete (DELETE), or changes
nothing (NONE).`

func extractEntitiesTool() provider.Tool {
	return provider.Tool{
		Name:        "extract_entities",
		Description: "Record every entity found in the text.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entities": map[string]any{
					"type":        "array",
					"description": "All entities mentioned in the text.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"entity":      map[string]any{"type": "string"},
							"entity_type": map[string]any{"type": "string"},
						},
						"required": []string{"entity", "entity_type"},
					},
				},
			},
			"required": []string{"entities"},
		},
	}
}

func establishRelationsTool() provider.Tool {
	return provider.Tool{
		Name:        "establish_relationships",
		Description: "Record the relationships stated between entities.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entities": map[string]any{
					"type":        "array",
					"description": "Source, relationship, destination tuples.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"source":       map[string]any{"type": "string"},
							"relationship": map[string]any{"type": "string"},
							"destination":  map[string]any{"type": "string"},
						},
						"required": []string{"source", "relationship", "destination"},
					},
				},
			},
			"required": []string{"entities"},
		},
	}
}

func classifyPrivacyTool() provider.Tool {
	return provider.Tool{
		Name:        "classify_privacy",
		Description: "Flag which numbered facts are privacy sensitive.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"flags": map[string]any{
					"type":        "array",
					"description": "One entry per fact index.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"index":      map[string]any{"type": "integer"},
							"is_private": map[string]any{"type": "boolean"},
						},
						"required": []string{"index", "is_private"},
					},
				},
			},
			"required": []string{"flags"},
		},
	}
}

func resolveConflictsTool() provider.Tool {
	return provider.Tool{
		Name:        "delete_graph_memory",
		Description: "List the existing facts to delete as outdated or contradicted.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"relations": map[string]any{
					"type":        "array",
					"description": "Facts to remove from the graph.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"source":       map[string]any{"type": "string"},
							"relationship": map[string]any{"type": "string"},
							"destination":  map[string]any{"type": "string"},
						},
						"required": []string{"source", "relationship", "destination"},
					},
				},
			},
			"required": []string{"relations"},
		},
	}
}

func flatDecisionTool() provider.Tool {
	return provider.Tool{
		Name:        "memory_decision",
		Description: "Decide per existing memory what the new fact changes.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"actions": map[string]any{
					"type":        "array",
					"description": "One decision per affected memory, plus at most one ADD.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":    map[string]any{"type": "string"},
							"event": map[string]any{"type": "string", "enum": []any{"ADD", "UPDATE", "DELETE", "NONE"}},
							"text":  map[string]any{"type": "string"},
						},
						"required": []string{"event"},
					},
				},
			},
			"required": []string{"actions"},
		},
	}
}

// renderTriples renders relations the way the conflict-resolution prompt
// expects them: one "source -- relationship -- destination" line each.
func renderTriples(triples []Triple) string {
	lines := make([]string, 0, len(triples))
	for _, t := range triples {
		lines = append(lines, fmt.Sprintf("%s -- %s -- %s", t.Source, t.Relationship, t.Target))
	}
	return strings.Join(lines, "\n")
}
