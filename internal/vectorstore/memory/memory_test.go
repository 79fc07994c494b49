package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

func record(doc string, index int, ingestedAt int64, emb ...float32) vectorstore.Record {
	return vectorstore.Record{
		Chunk:     model.Chunk{Document: doc, Index: index, Text: doc + " text", IngestedAt: ingestedAt},
		Embedding: emb,
	}
}

func TestQueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Add(ctx, []vectorstore.Record{
		record("a.txt", 0, 1, 1, 0),
		record("a.txt", 1, 1, 0, 1),
		record("a.txt", 2, 1, 1, 1),
	}))

	got, err := s.Query(ctx, []float32{1, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
}

func TestQueryEdgeCases(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.Query(ctx, []float32{1, 0}, 3, "")
	require.NoError(t, err)
	assert.Empty(t, got, "empty store")

	require.NoError(t, s.Add(ctx, []vectorstore.Record{record("a.txt", 0, 1, 1, 0)}))

	got, err = s.Query(ctx, []float32{1, 0}, 0, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Query(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Add(ctx, []vectorstore.Record{
		record("b.txt", 1, 20, 1, 0),
		record("b.txt", 0, 20, 1, 0),
		record("a.txt", 0, 10, 1, 0),
	}))

	got, err := s.Query(ctx, []float32{2, 0}, 3, "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a.txt", got[0].Document)
	assert.Equal(t, []int{0, 1}, []int{got[1].Index, got[2].Index})
}

func TestQueryScopedToDocumentAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Add(ctx, []vectorstore.Record{
		record("a.txt", 0, 1, 1, 0),
		record("b.txt", 0, 2, 1, 0),
		record("b.txt", 1, 2, 0, 1),
	}))

	got, err := s.Query(ctx, []float32{1, 0}, 5, "b.txt")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Equal(t, "b.txt", m.Document)
	}

	require.NoError(t, s.DeleteDocument(ctx, "b.txt"))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = s.Query(ctx, []float32{1, 0}, 5, "b.txt")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddRejectsMissingEmbedding(t *testing.T) {
	s := New()
	err := s.Add(context.Background(), []vectorstore.Record{record("a.txt", 0, 1)})
	assert.Error(t, err)
}
