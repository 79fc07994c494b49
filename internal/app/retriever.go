package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/metrics"
	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

const DefaultTopK = 3

const (
	ScopeDocument = "document"
	ScopeAll      = "all"
)

type Embedder interface {
	Model() string
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Tokenizer interface {
	CountTokens(text string) int
}

type Retriever struct {
	store    vectorstore.Store
	embedder Embedder
	defaultK int
	metrics  *metrics.Collector
}

func NewRetriever(store vectorstore.Store, embedder Embedder, defaultK int, collector *metrics.Collector) *Retriever {
	if defaultK <= 0 {
		defaultK = DefaultTopK
	}
	return &Retriever{store: store, embedder: embedder, defaultK: defaultK, metrics: collector}
}

// Retrieve returns up to k chunks nearest to query. An empty document
// searches every document. k == 0 returns nothing without embedding the
// query; k < 0 means the default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, document string) ([]model.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if k == 0 {
		return []model.RetrievedChunk{}, nil
	}
	if k < 0 {
		k = r.defaultK
	}

	started := time.Now()
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	chunks, err := r.store.Query(ctx, embedding, k, document)
	if err != nil {
		return nil, storeError(err)
	}
	r.metrics.RecordRetrieval(len(chunks), time.Since(started))
	return chunks, nil
}

func storeError(err error) error {
	if errors.Is(err, vectorstore.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrVectorStoreUnavailable, err)
	}
	return err
}
