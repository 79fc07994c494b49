package app

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrDocumentNotFound       = errors.New("document not found")
	ErrEmptyDocument          = errors.New("document is empty")
	ErrUnreadableDocument     = errors.New("document is unreadable")
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	ErrLLMUnavailable         = errors.New("llm unavailable")
	ErrEmbeddingFailed        = errors.New("embedding failed")
)
