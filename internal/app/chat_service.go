package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"docchat/internal/ai"
	"docchat/internal/loader"
	"docchat/internal/metrics"
	"docchat/internal/model"
)

const emptyAnswer = "The model returned an empty response."

type ChatCompleter interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

// TurnPublisher hands finished turns to the asynchronous persistence worker.
type TurnPublisher interface {
	Publish(ctx context.Context, event model.TurnEvent) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, document string) ([]model.ChatTurn, bool, error)
	SetHistory(ctx context.Context, document string, turns []model.ChatTurn) error
	Invalidate(ctx context.Context, document string) error
	IsDirty(ctx context.Context, document string) (bool, error)
}

// ChatServiceOptions wires a ChatService. MaxContextMessage caps the prior
// turns sent to the model; HistoryTokenBudget then trims that window from
// the oldest turn.
type ChatServiceOptions struct {
	Registry           DocumentRegistry
	History            HistoryStore
	Cache              HistoryCache
	Publisher          TurnPublisher
	Retriever          *Retriever
	LLM                ChatCompleter
	LLMConfig          ai.ChatConfig
	Tokenizer          Tokenizer
	MaxContextMessage  int
	HistoryTokenBudget int
	Metrics            *metrics.Collector
	Logger             *zap.Logger
}

type ChatService struct {
	registry    DocumentRegistry
	history     HistoryStore
	cache       HistoryCache
	publisher   TurnPublisher
	retriever   *Retriever
	llm         ChatCompleter
	llmConfig   ai.ChatConfig
	tokenizer   Tokenizer
	maxContext  int
	tokenBudget int
	metrics     *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time
}

// AskInput describes one question. TopK < 0 uses the default; 0 sends no
// document context.
type AskInput struct {
	Document string
	Question string
	TopK     int
	Scope    string
}

type AskResult struct {
	Answer  string                 `json:"answer"`
	Sources []model.RetrievedChunk `json:"sources"`
	Turns   []model.ChatTurn       `json:"turns"`
}

type SearchInput struct {
	Document string
	Query    string
	TopK     int
	Scope    string
}

func NewChatService(opts ChatServiceOptions) *ChatService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxContext := opts.MaxContextMessage
	if maxContext <= 0 {
		maxContext = 20
	}
	return &ChatService{
		registry:    opts.Registry,
		history:     opts.History,
		cache:       opts.Cache,
		publisher:   opts.Publisher,
		retriever:   opts.Retriever,
		llm:         opts.LLM,
		llmConfig:   opts.LLMConfig,
		tokenizer:   opts.Tokenizer,
		maxContext:  maxContext,
		tokenBudget: opts.HistoryTokenBudget,
		metrics:     opts.Metrics,
		logger:      logger.With(zap.String("component", "chat")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Search returns the chunks a question would be answered from.
func (s *ChatService) Search(ctx context.Context, input SearchInput) ([]model.RetrievedChunk, error) {
	_, filter, err := s.resolveTarget(ctx, input.Document, input.Scope, false)
	if err != nil {
		return nil, err
	}
	return s.retriever.Retrieve(ctx, input.Query, input.TopK, filter)
}

// Ask answers a question about a document. On success the question and the
// answer are appended to the document's history; when the model call fails
// the history is left untouched.
func (s *ChatService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	prepared, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	answer, err := s.llm.Complete(ctx, s.llmConfig, prepared.messages)
	s.metrics.RecordLLMRequest("sync", time.Since(started), err)
	if err != nil {
		s.logger.Warn("llm completion failed", zap.String("document", prepared.document), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	return s.finish(ctx, prepared, answer)
}

// StreamAsk is Ask with the answer delivered incrementally through onChunk.
// The turn is recorded once the stream has completed.
func (s *ChatService) StreamAsk(ctx context.Context, input AskInput, onChunk func(string) error) (*AskResult, error) {
	prepared, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	answer, err := s.llm.StreamComplete(ctx, s.llmConfig, prepared.messages, onChunk)
	s.metrics.RecordLLMRequest("stream", time.Since(started), err)
	if err != nil {
		s.logger.Warn("llm stream failed", zap.String("document", prepared.document), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	return s.finish(ctx, prepared, answer)
}

type preparedAsk struct {
	document string
	question string
	askedAt  time.Time
	sources  []model.RetrievedChunk
	messages []ai.ChatMessage
}

func (s *ChatService) prepare(ctx context.Context, input AskInput) (*preparedAsk, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	name, filter, err := s.resolveTarget(ctx, input.Document, input.Scope, true)
	if err != nil {
		return nil, err
	}

	sources, err := s.retriever.Retrieve(ctx, question, input.TopK, filter)
	if err != nil {
		return nil, err
	}
	turns, err := s.History(ctx, name)
	if err != nil {
		return nil, err
	}

	askedAt := s.now()
	window := historyWindow(turns, s.maxContext, s.tokenBudget, s.tokenizer)
	systemPrompt := buildSystemPrompt(question, sources, askedAt.Local())
	return &preparedAsk{
		document: name,
		question: question,
		askedAt:  askedAt,
		sources:  sources,
		messages: buildMessages(systemPrompt, window, question),
	}, nil
}

func (s *ChatService) finish(ctx context.Context, p *preparedAsk, answer string) (*AskResult, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = emptyAnswer
	}
	turns := []model.ChatTurn{
		{Role: model.RoleUser, Content: p.question, CreatedAt: p.askedAt},
		{Role: model.RoleAssistant, Content: answer, CreatedAt: s.now()},
	}
	if err := s.appendTurns(ctx, p.document, turns); err != nil {
		return nil, err
	}
	return &AskResult{Answer: answer, Sources: p.sources, Turns: turns}, nil
}

func (s *ChatService) appendTurns(ctx context.Context, document string, turns []model.ChatTurn) error {
	s.invalidate(ctx, document)
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, model.TurnEvent{Document: document, Turns: turns})
		if err == nil {
			return nil
		}
		s.logger.Warn("publish turns failed, writing directly", zap.String("document", document), zap.Error(err))
	}
	if err := s.history.Append(ctx, document, turns...); err != nil {
		return fmt.Errorf("append history failed: %w", err)
	}
	return nil
}

// History returns the stored turns of document in order, served from the
// cache when possible.
func (s *ChatService) History(ctx context.Context, document string) ([]model.ChatTurn, error) {
	name := loader.DocumentName(document)
	if name == "" {
		return nil, fmt.Errorf("%w: document is required", ErrInvalidInput)
	}

	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, name)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, name); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	turns, err := s.history.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if dirty, dirtyErr := s.cache.IsDirty(ctx, name); dirtyErr == nil && !dirty {
			_ = s.cache.SetHistory(ctx, name, turns)
		}
	}
	return turns, nil
}

// SaveHistory replaces the history of a registered document. Turns without
// a timestamp are stamped with the current time.
func (s *ChatService) SaveHistory(ctx context.Context, document string, turns []model.ChatTurn) ([]model.ChatTurn, error) {
	name := loader.DocumentName(document)
	if name == "" {
		return nil, fmt.Errorf("%w: document is required", ErrInvalidInput)
	}
	doc, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	now := s.now()
	saved := make([]model.ChatTurn, len(turns))
	for i, t := range turns {
		if !model.ValidRole(t.Role) {
			return nil, fmt.Errorf("%w: turn %d has role %q", ErrInvalidInput, i, t.Role)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		saved[i] = t
	}

	s.invalidate(ctx, name)
	if err := s.history.Save(ctx, name, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *ChatService) ClearHistory(ctx context.Context, document string) error {
	name := loader.DocumentName(document)
	if name == "" {
		return fmt.Errorf("%w: document is required", ErrInvalidInput)
	}
	s.invalidate(ctx, name)
	return s.history.Delete(ctx, name)
}

func (s *ChatService) invalidate(ctx context.Context, document string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, document); err != nil {
		s.logger.Warn("invalidate history cache failed", zap.String("document", document), zap.Error(err))
	}
}

// resolveTarget validates the document and scope of a request. It returns
// the document name and the vector-store filter (empty for scope all).
func (s *ChatService) resolveTarget(ctx context.Context, document, scope string, requireDocument bool) (string, string, error) {
	if scope == "" {
		scope = ScopeDocument
	}
	if scope != ScopeDocument && scope != ScopeAll {
		return "", "", fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
	}

	name := loader.DocumentName(document)
	if name == "" {
		if requireDocument || scope == ScopeDocument {
			return "", "", fmt.Errorf("%w: document is required", ErrInvalidInput)
		}
		return "", "", nil
	}
	doc, err := s.registry.Get(ctx, name)
	if err != nil {
		return "", "", err
	}
	if doc == nil {
		return "", "", ErrDocumentNotFound
	}
	if scope == ScopeAll {
		return name, "", nil
	}
	return name, name, nil
}
