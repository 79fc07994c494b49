package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"docchat/internal/model"
)

// historyStore and documentStore are the contracts both backends satisfy.
type historyStore interface {
	Load(ctx context.Context, document string) ([]model.ChatTurn, error)
	Append(ctx context.Context, document string, turns ...model.ChatTurn) error
	Save(ctx context.Context, document string, turns []model.ChatTurn) error
	Delete(ctx context.Context, document string) error
}

type documentStore interface {
	Upsert(ctx context.Context, doc model.Document) error
	Get(ctx context.Context, name string) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	Delete(ctx context.Context, name string) error
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func turnsAt(base time.Time) []model.ChatTurn {
	return []model.ChatTurn{
		{Role: model.RoleUser, Content: "What is it about?", CreatedAt: base},
		{Role: model.RoleAssistant, Content: "Foxes.", CreatedAt: base.Add(time.Second)},
	}
}

func assertSameTurns(t *testing.T, want, got []model.ChatTurn) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Role, got[i].Role)
		assert.Equal(t, want[i].Content, got[i].Content)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt), "turn %d time %v != %v", i, want[i].CreatedAt, got[i].CreatedAt)
	}
}

func historyBackends(t *testing.T) map[string]historyStore {
	fileRepo, err := NewHistoryFileRepository(filepath.Join(t.TempDir(), "chat_history"))
	require.NoError(t, err)
	return map[string]historyStore{
		"file":  fileRepo,
		"mysql": NewChatTurnRepository(setupTestDB(t)),
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, repo := range historyBackends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := repo.Load(ctx, "a.txt")
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)

			want := turnsAt(base)
			require.NoError(t, repo.Save(ctx, "a.txt", want))
			got, err := repo.Load(ctx, "a.txt")
			require.NoError(t, err)
			assertSameTurns(t, want, got)

			more := turnsAt(base.Add(time.Minute))
			require.NoError(t, repo.Append(ctx, "a.txt", more...))
			got, err = repo.Load(ctx, "a.txt")
			require.NoError(t, err)
			assertSameTurns(t, append(want, more...), got)

			replacement := turnsAt(base.Add(time.Hour))[:1]
			require.NoError(t, repo.Save(ctx, "a.txt", replacement))
			got, err = repo.Load(ctx, "a.txt")
			require.NoError(t, err)
			assertSameTurns(t, replacement, got)

			other, err := repo.Load(ctx, "b.txt")
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, repo.Delete(ctx, "a.txt"))
			require.NoError(t, repo.Delete(ctx, "a.txt"))
			got, err = repo.Load(ctx, "a.txt")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestHistoryFileExactRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := NewHistoryFileRepository(dir)
	require.NoError(t, err)

	want := turnsAt(time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC))
	require.NoError(t, repo.Save(ctx, "notes.txt", want))

	_, err = os.Stat(filepath.Join(dir, "notes.txt.json"))
	require.NoError(t, err)

	reopened, err := NewHistoryFileRepository(dir)
	require.NoError(t, err)
	got, err := reopened.Load(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHistoryFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewHistoryFileRepository(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt.json"), []byte("{not json"), 0o644))

	_, err = repo.Load(context.Background(), "x.txt")
	assert.Error(t, err)
}

func documentBackends(t *testing.T, path string) map[string]documentStore {
	fileRepo, err := NewDocumentFileRepository(path)
	require.NoError(t, err)
	return map[string]documentStore{
		"file":  fileRepo,
		"mysql": NewDocumentRepository(setupTestDB(t)),
	}
}

func TestDocumentRegistry(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, repo := range documentBackends(t, filepath.Join(t.TempDir(), "documents.json")) {
		t.Run(name, func(t *testing.T) {
			missing, err := repo.Get(ctx, "none.txt")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, repo.Upsert(ctx, model.Document{Name: "b.txt", Source: model.SourceUpload, ChunkCount: 2, IngestedAt: at}))
			require.NoError(t, repo.Upsert(ctx, model.Document{Name: "a.txt", Source: model.SourceDirectory, ChunkCount: 1, IngestedAt: at}))
			require.NoError(t, repo.Upsert(ctx, model.Document{Name: "b.txt", Source: model.SourceWatch, ChunkCount: 5, IngestedAt: at}))

			docs, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "a.txt", docs[0].Name)
			assert.Equal(t, "b.txt", docs[1].Name)

			doc, err := repo.Get(ctx, "b.txt")
			require.NoError(t, err)
			require.NotNil(t, doc)
			assert.Equal(t, 5, doc.ChunkCount)
			assert.Equal(t, model.SourceWatch, doc.Source)

			require.NoError(t, repo.Delete(ctx, "b.txt"))
			require.NoError(t, repo.Delete(ctx, "b.txt"))
			doc, err = repo.Get(ctx, "b.txt")
			require.NoError(t, err)
			assert.Nil(t, doc)
		})
	}
}

func TestDocumentFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta", "documents.json")

	repo, err := NewDocumentFileRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, model.Document{Name: "a.txt", ChunkCount: 3}))

	reopened, err := NewDocumentFileRepository(path)
	require.NoError(t, err)
	doc, err := reopened.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 3, doc.ChunkCount)
}
