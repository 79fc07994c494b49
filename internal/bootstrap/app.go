// Package bootstrap builds the process-wide dependencies from config and
// owns their lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/logger"
	"docchat/internal/metrics"
	mysqlClient "docchat/internal/platform/mysql"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/repository"
	"docchat/internal/vectorstore"
	"docchat/internal/vectorstore/chroma"
	"docchat/internal/vectorstore/memory"
	"docchat/internal/watcher"
	"docchat/internal/worker"
)

// App holds the shared handles. The vector store is opened once here and
// released by Close; services receive it explicitly.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector

	VectorStore vectorstore.Store
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	TurnWorker  *worker.TurnPersistWorker
	Watcher     *watcher.Watcher

	Documents *app.DocumentService
	Chat      *app.ChatService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    log,
		Metrics:   metrics.NewCollector("docchat"),
		StartedAt: time.Now(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir failed: %w", err)
	}

	store, err := a.openVectorStore(ctx)
	if err != nil {
		return err
	}
	a.VectorStore = store

	registry, history, err := a.openStorage(ctx)
	if err != nil {
		return err
	}

	var historyCache app.HistoryCache
	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		historyCache = cache.NewHistoryCache(a.Redis, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second, 0)
	}

	var publisher app.TurnPublisher
	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.TurnWorker = worker.NewTurnPersistWorker(a.MQConn, history, cfg.RabbitMQ.TurnPersistQueue, a.Logger)
		if err := a.TurnWorker.Start(ctx); err != nil {
			return fmt.Errorf("start turn worker failed: %w", err)
		}
		publisher = rabbitmqClient.NewTurnPublisher(a.MQConn, cfg.RabbitMQ.TurnPersistQueue)
	}

	tokenizer := ai.NewTokenizer(cfg.LLM.TokenizerModel, a.Logger)
	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, tokenizer)
	if err != nil {
		return err
	}
	embedder := ai.NewEmbedder(
		ai.NewOpenAICompatibleClient(time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second),
		ai.EmbeddingConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
		},
		cfg.Embedding.BatchSize,
		cfg.Embedding.RequestsPerSecond,
	)

	a.Documents = app.NewDocumentService(app.DocumentServiceOptions{
		Registry: registry,
		History:  history,
		Cache:    historyCache,
		Store:    store,
		Embedder: embedder,
		Splitter: splitter,
		DataDir:  cfg.App.DataDir,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	})
	a.Chat = app.NewChatService(app.ChatServiceOptions{
		Registry:  registry,
		History:   history,
		Cache:     historyCache,
		Publisher: publisher,
		Retriever: app.NewRetriever(store, embedder, cfg.RAG.TopK, a.Metrics),
		LLM:       ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second),
		LLMConfig: ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		},
		Tokenizer:          tokenizer,
		MaxContextMessage:  cfg.LLM.MaxContextMessage,
		HistoryTokenBudget: cfg.LLM.HistoryTokenBudget,
		Metrics:            a.Metrics,
		Logger:             a.Logger,
	})

	// an in-memory index starts empty, so registered files are re-embedded
	force := cfg.VectorStore.Backend == "memory"
	if _, err := a.Documents.IndexDirectory(ctx, force); err != nil {
		a.Logger.Warn("initial indexing incomplete", zap.Error(err))
	}

	if cfg.Watcher.Enabled {
		a.Watcher, err = watcher.New(cfg.App.DataDir, a.Documents, 0, a.Logger)
		if err != nil {
			return err
		}
		if err := a.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher failed: %w", err)
		}
	}
	return nil
}

func (a *App) openVectorStore(ctx context.Context) (vectorstore.Store, error) {
	cfg := a.Config.VectorStore
	if cfg.Backend == "memory" {
		a.Logger.Warn("using in-memory vector store, the index is rebuilt on every start")
		return memory.New(), nil
	}
	store, err := chroma.Open(ctx, chroma.Config{
		URL:        cfg.URL,
		Tenant:     cfg.Tenant,
		Database:   cfg.Database,
		Collection: cfg.Collection,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open chroma at %s failed: %w", cfg.URL, err)
	}
	return store, nil
}

func (a *App) openStorage(ctx context.Context) (app.DocumentRegistry, app.HistoryStore, error) {
	cfg := a.Config
	if cfg.Storage.Backend == "mysql" {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		a.MySQL = db
		if err := repository.AutoMigrate(db); err != nil {
			return nil, nil, err
		}
		return repository.NewDocumentRepository(db), repository.NewChatTurnRepository(db), nil
	}

	registry, err := repository.NewDocumentFileRepository(cfg.Storage.MetadataFile)
	if err != nil {
		return nil, nil, err
	}
	history, err := repository.NewHistoryFileRepository(cfg.Storage.HistoryDir)
	if err != nil {
		return nil, nil, err
	}
	return registry, history, nil
}

// HealthChecks returns one probe per configured dependency.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{}
	if a.VectorStore != nil {
		checks["vector_store"] = a.VectorStore.Heartbeat
	}
	if a.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error { return mysqlClient.Ping(ctx, a.MySQL) }
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx, a.Redis) }
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error { return rabbitmqClient.Ping(a.MQConn) }
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.Watcher != nil {
		errs = append(errs, a.Watcher.Close())
	}
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		errs = append(errs, a.MQConn.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if a.VectorStore != nil {
		errs = append(errs, a.VectorStore.Close())
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
