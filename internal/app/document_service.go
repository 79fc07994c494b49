package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"docchat/internal/chunker"
	"docchat/internal/loader"
	"docchat/internal/metrics"
	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

type DocumentRegistry interface {
	Upsert(ctx context.Context, doc model.Document) error
	Get(ctx context.Context, name string) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	Delete(ctx context.Context, name string) error
}

type HistoryStore interface {
	Load(ctx context.Context, document string) ([]model.ChatTurn, error)
	Append(ctx context.Context, document string, turns ...model.ChatTurn) error
	Save(ctx context.Context, document string, turns []model.ChatTurn) error
	Delete(ctx context.Context, document string) error
}

// DocumentServiceOptions wires a DocumentService. DataDir receives a copy of
// every upload so it is re-indexed after a restart.
type DocumentServiceOptions struct {
	Registry DocumentRegistry
	History  HistoryStore
	Cache    HistoryCache
	Store    vectorstore.Store
	Embedder Embedder
	Splitter *chunker.Splitter
	DataDir  string
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

type DocumentService struct {
	registry DocumentRegistry
	history  HistoryStore
	cache    HistoryCache
	store    vectorstore.Store
	embedder Embedder
	splitter *chunker.Splitter
	dataDir  string
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time

	// writeMu serializes changes to the index so that two ingestions of
	// one name cannot interleave their delete and add.
	writeMu sync.Mutex
}

type IndexReport struct {
	Indexed []string          `json:"indexed"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed"`
}

func NewDocumentService(opts DocumentServiceOptions) *DocumentService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		registry: opts.Registry,
		history:  opts.History,
		cache:    opts.Cache,
		store:    opts.Store,
		embedder: opts.Embedder,
		splitter: opts.Splitter,
		dataDir:  opts.DataDir,
		metrics:  opts.Metrics,
		logger:   logger.With(zap.String("component", "documents")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest indexes an uploaded file. Re-ingesting a name replaces its chunks.
// Uploads are also written to the data directory.
func (s *DocumentService) Ingest(ctx context.Context, name string, content []byte, source string) (*model.Document, error) {
	name = loader.DocumentName(name)
	if name == "" || !loader.Supported(name) {
		return nil, fmt.Errorf("%w: only .txt and .pdf files are accepted", ErrInvalidInput)
	}
	if source == "" {
		source = model.SourceUpload
	}
	text, err := loader.LoadBytes(name, content)
	if err != nil {
		s.metrics.RecordIngest(source, 0, err)
		return nil, loadError(err)
	}

	doc, err := s.index(ctx, name, text, int64(len(content)), checksum(content), source)
	if err != nil {
		return nil, err
	}
	if source == model.SourceUpload && s.dataDir != "" {
		if err := s.saveUpload(name, content); err != nil {
			s.logger.Warn("keep uploaded file failed", zap.String("document", name), zap.Error(err))
		}
	}
	return doc, nil
}

// IngestText indexes pasted text. A name without extension gets ".txt".
func (s *DocumentService) IngestText(ctx context.Context, name, text string) (*model.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if filepath.Ext(name) == "" {
		name += loader.ExtText
	}
	if !strings.EqualFold(filepath.Ext(name), loader.ExtText) {
		return nil, fmt.Errorf("%w: pasted text must be a .txt document", ErrInvalidInput)
	}
	return s.Ingest(ctx, name, []byte(text), model.SourceUpload)
}

// IngestFile indexes a file from disk. The file is skipped when its
// content and the chunking settings are unchanged since the last ingestion.
func (s *DocumentService) IngestFile(ctx context.Context, path, source string) (*model.Document, error) {
	return s.ingestFile(ctx, path, source, false)
}

func (s *DocumentService) ingestFile(ctx context.Context, path, source string, force bool) (*model.Document, error) {
	name := loader.DocumentName(path)
	if name == "" || !loader.Supported(name) {
		return nil, fmt.Errorf("%w: unsupported file %s", ErrInvalidInput, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		s.metrics.RecordIngest(source, 0, err)
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	sum := checksum(content)

	if !force {
		existing, err := s.registry.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if existing != nil && s.unchanged(existing, sum) {
			s.logger.Debug("document unchanged, skipping", zap.String("document", name))
			return existing, nil
		}
	}

	text, err := loader.LoadBytes(name, content)
	if err != nil {
		s.metrics.RecordIngest(source, 0, err)
		return nil, loadError(err)
	}
	return s.index(ctx, name, text, int64(len(content)), sum, source)
}

// IndexDirectory ingests every .txt file of the data directory. Files whose
// name is already registered are skipped unless force is set. One failing
// file does not stop the others.
func (s *DocumentService) IndexDirectory(ctx context.Context, force bool) (*IndexReport, error) {
	report := &IndexReport{Indexed: []string{}, Skipped: []string{}, Failed: map[string]string{}}
	if s.dataDir == "" {
		return report, nil
	}
	paths, err := loader.ScanDir(s.dataDir)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := loader.DocumentName(path)
		if !force {
			existing, err := s.registry.Get(ctx, name)
			if err != nil {
				return report, err
			}
			if existing != nil {
				report.Skipped = append(report.Skipped, name)
				continue
			}
		}
		if _, err := s.ingestFile(ctx, path, model.SourceDirectory, true); err != nil {
			s.logger.Warn("index file failed", zap.String("path", path), zap.Error(err))
			report.Failed[name] = err.Error()
			if errors.Is(err, ErrVectorStoreUnavailable) {
				return report, err
			}
			continue
		}
		report.Indexed = append(report.Indexed, name)
	}
	s.logger.Info("data directory indexed",
		zap.String("dir", s.dataDir),
		zap.Int("indexed", len(report.Indexed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (s *DocumentService) index(ctx context.Context, name, text string, size int64, sum, source string) (*model.Document, error) {
	chunks := s.splitter.Chunk(name, text)
	if len(chunks) == 0 {
		s.metrics.RecordIngest(source, 0, ErrEmptyDocument)
		return nil, ErrEmptyDocument
	}

	ingestedAt := s.now()
	// whitespace-only windows (long blank runs) are counted but not
	// embedded or stored; Index and StartIndex of the rest stay as split
	indexed := make([]model.Chunk, 0, len(chunks))
	tokens := 0
	for i := range chunks {
		chunks[i].IngestedAt = ingestedAt.UnixMicro()
		tokens += chunks[i].TokenCount
		if strings.TrimSpace(chunks[i].Text) == "" {
			continue
		}
		indexed = append(indexed, chunks[i])
	}
	if len(indexed) == 0 {
		s.metrics.RecordIngest(source, 0, ErrEmptyDocument)
		return nil, ErrEmptyDocument
	}
	texts := make([]string, len(indexed))
	for i := range indexed {
		texts[i] = indexed[i].Text
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		s.metrics.RecordIngest(source, 0, err)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(indexed) {
		err := fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailed, len(embeddings), len(indexed))
		s.metrics.RecordIngest(source, 0, err)
		return nil, err
	}
	records := make([]vectorstore.Record, len(indexed))
	for i := range indexed {
		records[i] = vectorstore.Record{Chunk: indexed[i], Embedding: embeddings[i]}
	}

	doc := model.Document{
		Name:           name,
		Source:         source,
		SizeBytes:      size,
		ChunkCount:     len(indexed),
		TokenCount:     tokens,
		ChunkSize:      s.splitter.Size(),
		ChunkOverlap:   s.splitter.Overlap(),
		EmbeddingModel: s.embedder.Model(),
		Checksum:       sum,
		IngestedAt:     ingestedAt,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.store.DeleteDocument(ctx, name); err != nil {
		s.metrics.RecordIngest(source, 0, err)
		return nil, storeError(err)
	}
	if err := s.store.Add(ctx, records); err != nil {
		// a registry entry never outlives its chunks
		s.discard(ctx, name)
		s.metrics.RecordIngest(source, 0, err)
		return nil, storeError(err)
	}
	if err := s.registry.Upsert(ctx, doc); err != nil {
		s.metrics.RecordIngest(source, 0, err)
		return nil, err
	}

	s.metrics.RecordIngest(source, len(indexed), nil)
	s.logger.Info("document ingested",
		zap.String("document", name),
		zap.String("source", source),
		zap.Int("chunks", len(indexed)),
		zap.Int("tokens", tokens),
	)
	return &doc, nil
}

func (s *DocumentService) List(ctx context.Context) ([]model.Document, error) {
	docs, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

func (s *DocumentService) Get(ctx context.Context, name string) (*model.Document, error) {
	name = loader.DocumentName(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes the document's chunks, metadata, history and its copy in
// the data directory.
func (s *DocumentService) Delete(ctx context.Context, name string) error {
	deleted, err := s.DeleteIfExists(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteIfExists is Delete without the not-found error.
func (s *DocumentService) DeleteIfExists(ctx context.Context, name string) (bool, error) {
	name = loader.DocumentName(name)
	if name == "" {
		return false, ErrInvalidInput
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.registry.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	if err := s.store.DeleteDocument(ctx, name); err != nil {
		return false, storeError(err)
	}
	if err := s.registry.Delete(ctx, name); err != nil {
		return false, err
	}
	if err := s.history.Delete(ctx, name); err != nil {
		return false, err
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, name)
	}
	if s.dataDir != "" {
		if err := os.Remove(filepath.Join(s.dataDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove stored file failed", zap.String("document", name), zap.Error(err))
		}
	}
	s.logger.Info("document deleted", zap.String("document", name))
	return true, nil
}

// discard removes what a failed ingestion of name may have left behind.
// Callers hold writeMu.
func (s *DocumentService) discard(ctx context.Context, name string) {
	if err := s.store.DeleteDocument(ctx, name); err != nil {
		s.logger.Warn("remove partial chunks failed", zap.String("document", name), zap.Error(err))
	}
	if err := s.registry.Delete(ctx, name); err != nil {
		s.logger.Warn("remove stale registry entry failed", zap.String("document", name), zap.Error(err))
	}
}

func (s *DocumentService) unchanged(doc *model.Document, sum string) bool {
	return doc.Checksum == sum &&
		doc.ChunkSize == s.splitter.Size() &&
		doc.ChunkOverlap == s.splitter.Overlap() &&
		doc.EmbeddingModel == s.embedder.Model()
}

func (s *DocumentService) saveUpload(name string, content []byte) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.dataDir, name)
	if existing, err := os.ReadFile(path); err == nil && checksum(existing) == checksum(content) {
		return nil
	}
	return os.WriteFile(path, content, 0o644)
}

func loadError(err error) error {
	switch {
	case errors.Is(err, loader.ErrEmpty):
		return fmt.Errorf("%w: %v", ErrEmptyDocument, err)
	case errors.Is(err, loader.ErrUnreadable):
		return fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	case errors.Is(err, loader.ErrUnsupported):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
