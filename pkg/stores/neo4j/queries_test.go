package neo4j

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/pkg/errors"
)

func TestRelationCypher(t *testing.T) {
	t.Run("valid type is interpolated", func(t *testing.T) {
		cypher, err := relationCypher(upsertRelationTemplate, "works_at")
		require.NoError(t, err)
		assert.Contains(t, cypher, "[r:works_at]")
	})

	t.Run("injection attempts are rejected", func(t *testing.T) {
		for _, bad := range []string{"", "works at", "x]->() DELETE n //", "1type"} {
			_, err := relationCypher(upsertRelationTemplate, bad)
			assert.Error(t, err)
		}
	})
}

func TestIndexDimension(t *testing.T) {
	t.Run("integer config value", func(t *testing.T) {
		options := map[string]any{
			"indexConfig": map[string]any{"vector.dimensions": int64(1536)},
		}
		assert.Equal(t, 1536, indexDimension(options))
	})

	t.Run("float config value", func(t *testing.T) {
		options := map[string]any{
			"indexConfig": map[string]any{"vector.dimensions": float64(768)},
		}
		assert.Equal(t, 768, indexDimension(options))
	})

	t.Run("missing config yields zero", func(t *testing.T) {
		assert.Zero(t, indexDimension(map[string]any{}))
		assert.Zero(t, indexDimension(map[string]any{"indexConfig": map[string]any{}}))
	})
}

func TestCheckIndexDimension(t *testing.T) {
	store := &Store{config: Config{Dimension: 1536}}

	t.Run("matching dimension passes", func(t *testing.T) {
		require.NoError(t, store.checkIndexDimension(1536))
	})

	t.Run("unknown dimension passes", func(t *testing.T) {
		require.NoError(t, store.checkIndexDimension(0))
	})

	t.Run("mismatch is a schema error", func(t *testing.T) {
		err := store.checkIndexDimension(768)
		require.Error(t, err)

		var schemaErr *errors.SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, "vector.dimensions", schemaErr.Property)
		assert.Equal(t, 1536, schemaErr.Want)
		assert.Equal(t, 768, schemaErr.Got)
	})
}
