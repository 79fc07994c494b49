// Package vectorstore defines the vector database contract shared by the
// Chroma and in-memory backends.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"

	"docchat/internal/model"
)

// ErrUnavailable marks failures to reach the vector database at all.
var ErrUnavailable = errors.New("vector store unavailable")

// Record is a chunk plus its embedding, ready to be stored.
type Record struct {
	Chunk     model.Chunk
	Embedding []float32
}

// Store persists chunk embeddings and answers nearest-neighbour queries.
//
// Query returns at most k chunks ordered by ascending cosine distance,
// ties broken by insertion order. document restricts the search to one
// document; an empty document searches every document. k <= 0 and an
// empty store both yield an empty result.
type Store interface {
	Heartbeat(ctx context.Context) error
	Add(ctx context.Context, records []Record) error
	Query(ctx context.Context, embedding []float32, k int, document string) ([]model.RetrievedChunk, error)
	DeleteDocument(ctx context.Context, document string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// SortMatches orders matches by distance, then by insertion order.
func SortMatches(matches []model.RetrievedChunk) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.IngestedAt != b.IngestedAt {
			return a.IngestedAt < b.IngestedAt
		}
		return a.Index < b.Index
	})
}

// CosineDistance is 1 - cosine similarity. Mismatched or zero vectors are
// treated as orthogonal.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
