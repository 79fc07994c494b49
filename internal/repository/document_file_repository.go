package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"docchat/internal/model"
)

// DocumentFileRepository stores the document registry as one JSON object
// mapping file name to metadata. The file is read once at construction and
// rewritten on every change.
type DocumentFileRepository struct {
	path string
	mu   sync.RWMutex
	docs map[string]model.Document
}

func NewDocumentFileRepository(path string) (*DocumentFileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata dir failed: %w", err)
	}
	r := &DocumentFileRepository{path: path, docs: map[string]model.Document{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("read metadata file failed: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.docs); err != nil {
			return nil, fmt.Errorf("decode metadata file failed: %w", err)
		}
	}
	return r, nil
}

func (r *DocumentFileRepository) Upsert(_ context.Context, doc model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.docs[doc.Name]
	r.docs[doc.Name] = doc
	if err := writeJSONFile(r.path, r.docs); err != nil {
		if had {
			r.docs[doc.Name] = prev
		} else {
			delete(r.docs, doc.Name)
		}
		return err
	}
	return nil
}

func (r *DocumentFileRepository) Get(_ context.Context, name string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[name]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (r *DocumentFileRepository) List(context.Context) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]model.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (r *DocumentFileRepository) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.docs[name]
	if !ok {
		return nil
	}
	delete(r.docs, name)
	if err := writeJSONFile(r.path, r.docs); err != nil {
		r.docs[name] = prev
		return err
	}
	return nil
}
