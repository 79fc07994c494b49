// Package chroma is a minimal client for the Chroma HTTP API (v2).
// It stores one chunk per record with the chunk metadata needed to rebuild
// model.Chunk on query, and uses a cosine-space collection.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

const (
	metaSourceFile = "source_file"
	metaChunkIndex = "chunk_index"
	metaStartIndex = "start_index"
	metaIngestedAt = "ingested_at"
	metaTokenCount = "token_count"
)

type Config struct {
	URL        string
	Tenant     string
	Database   string
	Collection string
	Timeout    time.Duration
}

type Store struct {
	baseURL      string
	tenant       string
	database     string
	collection   string
	collectionID string
	client       *http.Client
	logger       *zap.Logger
}

// Open checks the server heartbeat and gets or creates the collection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &Store{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		tenant:     cfg.Tenant,
		database:   cfg.Database,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "chroma")),
	}
	if s.tenant == "" {
		s.tenant = "default_tenant"
	}
	if s.database == "" {
		s.database = "default_database"
	}
	if s.collection == "" {
		s.collection = "uploads"
	}

	if err := s.Heartbeat(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"name":          s.collection,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
		"get_or_create": true,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, s.databasePath()+"/collections", body, &created); err != nil {
		return nil, fmt.Errorf("get or create collection %s failed: %w", s.collection, err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("chroma returned no id for collection %s", s.collection)
	}
	s.collectionID = created.ID
	s.logger.Info("collection ready", zap.String("collection", s.collection), zap.String("id", s.collectionID))
	return s, nil
}

func (s *Store) Heartbeat(ctx context.Context) error {
	if err := s.do(ctx, http.MethodGet, "/api/v2/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("chroma heartbeat failed: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	documents := make([]string, len(records))
	metadatas := make([]map[string]any, len(records))
	for i, r := range records {
		ids[i] = r.Chunk.ID()
		embeddings[i] = r.Embedding
		documents[i] = r.Chunk.Text
		metadatas[i] = map[string]any{
			metaSourceFile: r.Chunk.Document,
			metaChunkIndex: r.Chunk.Index,
			metaStartIndex: r.Chunk.StartIndex,
			metaIngestedAt: r.Chunk.IngestedAt,
			metaTokenCount: r.Chunk.TokenCount,
		}
	}
	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath()+"/add", body, nil); err != nil {
		return fmt.Errorf("chroma add failed: %w", err)
	}
	return nil
}

// Query clamps k to the collection size; Chroma rejects n_results larger
// than the number of stored elements.
func (s *Store) Query(ctx context.Context, embedding []float32, k int, document string) ([]model.RetrievedChunk, error) {
	if k <= 0 {
		return []model.RetrievedChunk{}, nil
	}
	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []model.RetrievedChunk{}, nil
	}
	if k > total {
		k = total
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if document != "" {
		body["where"] = map[string]any{metaSourceFile: document}
	}
	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]*string        `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath()+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("chroma query failed: %w", err)
	}
	if len(resp.IDs) == 0 {
		return []model.RetrievedChunk{}, nil
	}

	matches := make([]model.RetrievedChunk, 0, len(resp.IDs[0]))
	for i := range resp.IDs[0] {
		var chunk model.Chunk
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			chunk = chunkFromMetadata(resp.Metadatas[0][i])
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			chunk.Text = *resp.Documents[0][i]
		}
		match := model.RetrievedChunk{Chunk: chunk}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			match.Distance = resp.Distances[0][i]
		}
		matches = append(matches, match)
	}
	vectorstore.SortMatches(matches)
	return matches, nil
}

func (s *Store) DeleteDocument(ctx context.Context, document string) error {
	body := map[string]any{
		"where": map[string]any{metaSourceFile: document},
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath()+"/delete", body, nil); err != nil {
		return fmt.Errorf("chroma delete %s failed: %w", document, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.do(ctx, http.MethodGet, s.collectionPath()+"/count", nil, &n); err != nil {
		return 0, fmt.Errorf("chroma count failed: %w", err)
	}
	return n, nil
}

// Close releases idle HTTP connections. The Chroma server keeps the data.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) databasePath() string {
	return fmt.Sprintf("/api/v2/tenants/%s/databases/%s", url.PathEscape(s.tenant), url.PathEscape(s.database))
}

func (s *Store) collectionPath() string {
	return s.databasePath() + "/collections/" + url.PathEscape(s.collectionID)
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("%s %s status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			return errors.Join(vectorstore.ErrUnavailable, err)
		}
		return err
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}

func chunkFromMetadata(meta map[string]any) model.Chunk {
	var c model.Chunk
	if v, ok := meta[metaSourceFile].(string); ok {
		c.Document = v
	}
	c.Index = int(metaInt(meta[metaChunkIndex]))
	c.StartIndex = int(metaInt(meta[metaStartIndex]))
	c.IngestedAt = metaInt(meta[metaIngestedAt])
	c.TokenCount = int(metaInt(meta[metaTokenCount]))
	return c
}

func metaInt(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(n)
	}
	return 0
}
