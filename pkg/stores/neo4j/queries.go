package neo4j

import (
	"fmt"
	"regexp"
)

// Every query keys nodes by (name, owner_id) so tenants never see each
// other's subgraphs. Values travel as parameters; the one thing Cypher
// cannot parameterize is the relationship type, which is validated against
// identifierPattern before interpolation.

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const createEntityConstraint = `
CREATE CONSTRAINT entity_name_owner IF NOT EXISTS
FOR (n:Entity) REQUIRE (n.name, n.owner_id) IS UNIQUE`

const createEmbeddingIndexTemplate = `
CREATE VECTOR INDEX entity_embedding IF NOT EXISTS
FOR (n:Entity) ON (n.embedding)
OPTIONS {indexConfig: {
  ` + "`vector.dimensions`" + `: %d,
  ` + "`vector.similarity_function`" + `: 'cosine'
}}`

const showEmbeddingIndexQuery = `
SHOW INDEXES YIELD name, options
WHERE name = 'entity_embedding'
RETURN options`

const upsertEntityQuery = `
MERGE (n:Entity {name: $name, owner_id: $owner_id})
ON CREATE SET n.created_at = $now
ON MATCH SET n.updated_at = $now
SET n.type = $type, n.embedding = $embedding`

const upsertRelationTemplate = `
MATCH (s:Entity {name: $source, owner_id: $owner_id})
MATCH (t:Entity {name: $target, owner_id: $owner_id})
MERGE (s)-[r:%s]->(t)
ON CREATE SET r.created_at = $now
ON MATCH SET r.updated_at = $now
SET r.is_private = $is_private`

const deleteRelationTemplate = `
MATCH (s:Entity {name: $source, owner_id: $owner_id})
      -[r:%s]->
      (t:Entity {name: $target, owner_id: $owner_id})
DELETE r`

const neighborRelationsQuery = `
MATCH (n:Entity {owner_id: $owner_id})
WITH n, vector.similarity.cosine(n.embedding, $embedding) AS similarity
WHERE similarity >= $threshold
MATCH (n)-[r]-(m:Entity {owner_id: $owner_id})
RETURN DISTINCT
  startNode(r).name AS source,
  type(r) AS relationship,
  endNode(r).name AS target,
  coalesce(r.is_private, false) AS is_private,
  similarity
ORDER BY similarity DESC
LIMIT $limit`

const relationsInScopeQuery = `
MATCH (s:Entity {owner_id: $owner_id})-[r]->(t:Entity {owner_id: $owner_id})
RETURN
  s.name AS source,
  type(r) AS relationship,
  t.name AS target,
  coalesce(r.is_private, false) AS is_private
ORDER BY coalesce(r.created_at, '') DESC
LIMIT $limit`

const deleteScopeRelationsQuery = `
MATCH (s:Entity {owner_id: $owner_id})-[r]->()
DELETE r`

const deleteScopeEntitiesQuery = `
MATCH (n:Entity {owner_id: $owner_id})
DELETE n`

// relationCypher interpolates a validated relationship type into one of the
// relation templates.
func relationCypher(template, relationType string) (string, error) {
	if !identifierPattern.MatchString(relationType) {
		return "", fmt.Errorf("invalid relationship type %q", relationType)
	}
	return fmt.Sprintf(template, relationType), nil
}
