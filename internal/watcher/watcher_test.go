package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
)

type fakeHandler struct {
	mu       sync.Mutex
	ingested map[string]int
	deleted  []string
}

func (f *fakeHandler) IngestFile(_ context.Context, path, source string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingested == nil {
		f.ingested = map[string]int{}
	}
	f.ingested[filepath.Base(path)]++
	return &model.Document{Name: filepath.Base(path), Source: source}, nil
}

func (f *fakeHandler) DeleteIfExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return true, nil
}

func (f *fakeHandler) ingestCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingested[name]
}

func (f *fakeHandler) deletedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func TestWatcherIngestsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	h := &fakeHandler{}
	w, err := New(dir, h, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.md"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return h.ingestCount("notes.txt") >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, h.ingestCount("ignored.md"))

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		names := h.deletedNames()
		return len(names) == 1 && names[0] == "notes.txt"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherStartFailsForMissingDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), &fakeHandler{}, 0, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Start(context.Background()))
}
