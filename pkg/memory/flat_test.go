package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/pkg/errors"
	"github.com/engramlabs/engram/pkg/provider"
)

func newFlatEngine(mock *provider.MockProvider) (*FlatEngine, *InMemoryVectorStore) {
	store := NewInMemoryVectorStore()
	engine := NewFlatEngine(store, mock, &stubEmbedder{}, Config{})
	return engine, store
}

func TestFlatEngineAdd(t *testing.T) {
	ctx := context.Background()
	scope := Scope{UserID: "alice"}

	t.Run("first fact is added without an oracle call", func(t *testing.T) {
		mock := provider.NewMockProvider()
		engine, store := newFlatEngine(mock)

		events, err := engine.Add(ctx, "Likes pizza", scope, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventAdd, events[0].Event)
		assert.Equal(t, "Likes pizza", events[0].Text)
		assert.Empty(t, mock.Requests)

		record, err := store.Get(ctx, events[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "Likes pizza", record.Payload["data"])
		assert.Equal(t, "alice", record.Payload["user_id"])
		assert.NotEmpty(t, record.Payload["hash"])
		assert.Equal(t, "fact", record.Payload["memory_type"])
	})

	t.Run("metadata is stored alongside the scope", func(t *testing.T) {
		engine, store := newFlatEngine(provider.NewMockProvider())

		events, err := engine.Add(ctx, "Prefers tea", scope, map[string]any{
			"memory_type": "preference",
			"topic":       "drinks",
		})
		require.NoError(t, err)
		require.Len(t, events, 1)

		record, err := store.Get(ctx, events[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "preference", record.Payload["memory_type"])
		assert.Equal(t, "drinks", record.Payload["topic"])
	})

	t.Run("update decision replaces the stored text", func(t *testing.T) {
		mock := provider.NewMockProvider()
		engine, store := newFlatEngine(mock)

		seeded, err := engine.Add(ctx, "Lives in Berlin", scope, nil)
		require.NoError(t, err)
		id := seeded[0].ID

		mock.ScriptCall("memory_decision",
			fmt.Sprintf(`{"actions":[{"id":"%s","event":"UPDATE","text":"Lives in Munich"}]}`, id),
		)

		events, err := engine.Add(ctx, "Moved to Munich", scope, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventUpdate, events[0].Event)

		record, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Lives in Munich", record.Payload["data"])
		assert.NotEmpty(t, record.Payload["updated_at"])
	})

	t.Run("delete decision removes the record", func(t *testing.T) {
		mock := provider.NewMockProvider()
		engine, store := newFlatEngine(mock)

		seeded, err := engine.Add(ctx, "Is vegetarian", scope, nil)
		require.NoError(t, err)
		id := seeded[0].ID

		mock.ScriptCall("memory_decision",
			fmt.Sprintf(`{"actions":[{"id":"%s","event":"DELETE"}]}`, id),
		)

		events, err := engine.Add(ctx, "Eats meat again", scope, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventDelete, events[0].Event)

		_, err = store.Get(ctx, id)
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("none decision changes nothing", func(t *testing.T) {
		mock := provider.NewMockProvider()
		engine, _ := newFlatEngine(mock)

		seeded, err := engine.Add(ctx, "Likes pizza", scope, nil)
		require.NoError(t, err)

		mock.ScriptCall("memory_decision",
			fmt.Sprintf(`{"actions":[{"id":"%s","event":"NONE"}]}`, seeded[0].ID),
		)

		events, err := engine.Add(ctx, "Likes pizza", scope, nil)
		require.NoError(t, err)
		assert.Empty(t, events)

		items, err := engine.GetAll(ctx, scope, 0)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("decisions for unknown ids are discarded", func(t *testing.T) {
		mock := provider.NewMockProvider()
		engine, _ := newFlatEngine(mock)

		_, err := engine.Add(ctx, "Likes pizza", scope, nil)
		require.NoError(t, err)

		mock.ScriptCall("memory_decision",
			`{"actions":[{"id":"no-such-id","event":"DELETE"},{"id":"no-such-id","event":"UPDATE","text":"x"}]}`,
		)

		events, err := engine.Add(ctx, "Likes sushi", scope, nil)
		require.NoError(t, err)
		assert.Empty(t, events)

		items, err := engine.GetAll(ctx, scope, 0)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("oracle failure degrades to a plain add", func(t *testing.T) {
		mock := provider.NewMockProvider()
		engine, _ := newFlatEngine(mock)

		_, err := engine.Add(ctx, "Likes pizza", scope, nil)
		require.NoError(t, err)

		mock.Err = stderrors.New("oracle unavailable")

		events, err := engine.Add(ctx, "Likes sushi", scope, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventAdd, events[0].Event)

		items, err := engine.GetAll(ctx, scope, 0)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("missing scope is rejected", func(t *testing.T) {
		engine, _ := newFlatEngine(provider.NewMockProvider())

		_, err := engine.Add(ctx, "Likes pizza", Scope{}, nil)
		require.ErrorIs(t, err, errors.ErrMissingScope)
	})
}

func TestFlatEngineSearch(t *testing.T) {
	ctx := context.Background()
	scope := Scope{UserID: "alice"}

	engine, _ := newFlatEngine(provider.NewMockProvider())

	_, err := engine.Add(ctx, "Likes pizza", scope, nil)
	require.NoError(t, err)
	_, err = engine.Add(ctx, "Works at OpenAI", Scope{UserID: "bob"}, nil)
	require.NoError(t, err)

	t.Run("identical text scores highest", func(t *testing.T) {
		items, err := engine.Search(ctx, "Likes pizza", scope, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Likes pizza", items[0].Content)
		assert.InDelta(t, 1.0, float64(items[0].Score), 1e-6)
	})

	t.Run("results stay inside the scope", func(t *testing.T) {
		items, err := engine.Search(ctx, "Works at OpenAI", scope, 10)
		require.NoError(t, err)
		for _, item := range items {
			assert.Equal(t, "alice", item.Scope.UserID)
		}
	})
}

func TestFlatEngineDeleteAll(t *testing.T) {
	ctx := context.Background()

	engine, _ := newFlatEngine(provider.NewMockProvider())

	_, err := engine.Add(ctx, "Likes pizza", Scope{UserID: "alice"}, nil)
	require.NoError(t, err)
	_, err = engine.Add(ctx, "Likes sushi", Scope{UserID: "bob"}, nil)
	require.NoError(t, err)

	require.NoError(t, engine.DeleteAll(ctx, Scope{UserID: "alice"}))

	aliceItems, err := engine.GetAll(ctx, Scope{UserID: "alice"}, 0)
	require.NoError(t, err)
	assert.Empty(t, aliceItems)

	bobItems, err := engine.GetAll(ctx, Scope{UserID: "bob"}, 0)
	require.NoError(t, err)
	assert.Len(t, bobItems, 1)
}
