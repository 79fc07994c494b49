// Package memory is an in-process vector store using brute-force cosine
// distance. It keeps records in insertion order.
package memory

import (
	"context"
	"errors"
	"sync"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

type Store struct {
	mu      sync.RWMutex
	records []vectorstore.Record
}

func New() *Store { return &Store{} }

func (s *Store) Heartbeat(context.Context) error { return nil }

func (s *Store) Add(_ context.Context, records []vectorstore.Record) error {
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return errors.New("record without embedding")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *Store) Query(_ context.Context, embedding []float32, k int, document string) ([]model.RetrievedChunk, error) {
	if k <= 0 {
		return []model.RetrievedChunk{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]model.RetrievedChunk, 0, len(s.records))
	for _, r := range s.records {
		if document != "" && r.Chunk.Document != document {
			continue
		}
		matches = append(matches, model.RetrievedChunk{
			Chunk:    r.Chunk,
			Distance: vectorstore.CosineDistance(embedding, r.Embedding),
		})
	}
	vectorstore.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) DeleteDocument(_ context.Context, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Chunk.Document != document {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = vectorstore.Record{}
	}
	s.records = kept
	return nil
}

func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) Close() error { return nil }
