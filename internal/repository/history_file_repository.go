package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"docchat/internal/model"
)

// HistoryFileRepository keeps the turns of each document in
// <dir>/<document>.json as a JSON array.
type HistoryFileRepository struct {
	dir string
	mu  sync.Mutex
}

func NewHistoryFileRepository(dir string) (*HistoryFileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir failed: %w", err)
	}
	return &HistoryFileRepository{dir: dir}, nil
}

func (r *HistoryFileRepository) Load(_ context.Context, document string) ([]model.ChatTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(document)
}

func (r *HistoryFileRepository) Append(_ context.Context, document string, turns ...model.ChatTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load(document)
	if err != nil {
		return err
	}
	return r.save(document, append(existing, turns...))
}

func (r *HistoryFileRepository) Save(_ context.Context, document string, turns []model.ChatTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if turns == nil {
		turns = []model.ChatTurn{}
	}
	return r.save(document, turns)
}

func (r *HistoryFileRepository) Delete(_ context.Context, document string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(document)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete history file failed: %w", err)
	}
	return nil
}

func (r *HistoryFileRepository) load(document string) ([]model.ChatTurn, error) {
	data, err := os.ReadFile(r.path(document))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.ChatTurn{}, nil
		}
		return nil, fmt.Errorf("read history file failed: %w", err)
	}
	turns := []model.ChatTurn{}
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode history file %s failed: %w", document, err)
	}
	return turns, nil
}

func (r *HistoryFileRepository) save(document string, turns []model.ChatTurn) error {
	return writeJSONFile(r.path(document), turns)
}

func (r *HistoryFileRepository) path(document string) string {
	return filepath.Join(r.dir, filepath.Base(document)+".json")
}

// writeJSONFile writes v through a temp file and a rename so a crash never
// leaves a half-written file behind.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s failed: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file failed: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s failed: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s failed: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s failed: %w", filepath.Base(path), err)
	}
	return nil
}
