package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer counts tokens with the tiktoken encoding of model. The encoding
// is loaded on first use (it may need to be downloaded); when that fails,
// or when model is empty, counts fall back to EstimateTokens.
type Tokenizer struct {
	model  string
	logger *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func NewTokenizer(model string, logger *zap.Logger) *Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tokenizer{model: model, logger: logger.With(zap.String("component", "tokenizer"))}
}

func (t *Tokenizer) CountTokens(text string) int {
	if t.model == "" {
		return EstimateTokens(text)
	}
	t.once.Do(func() {
		t.enc, t.initErr = tiktoken.EncodingForModel(t.model)
		if t.initErr != nil {
			t.logger.Warn("tiktoken unavailable, falling back to estimate",
				zap.String("model", t.model), zap.Error(t.initErr))
		}
	})
	if t.initErr != nil {
		return EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateTokens assumes roughly four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
