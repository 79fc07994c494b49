package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/model"
	"docchat/internal/transport/http/response"
)

type ChatService interface {
	Search(ctx context.Context, input app.SearchInput) ([]model.RetrievedChunk, error)
	Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error)
	StreamAsk(ctx context.Context, input app.AskInput, onChunk func(string) error) (*app.AskResult, error)
	History(ctx context.Context, document string) ([]model.ChatTurn, error)
	SaveHistory(ctx context.Context, document string, turns []model.ChatTurn) ([]model.ChatTurn, error)
	ClearHistory(ctx context.Context, document string) error
}

type ChatHandler struct {
	chat ChatService
}

// AskRequest is shared by chat and search. An omitted top_k uses the
// configured default; an explicit 0 answers without document context.
type AskRequest struct {
	Document string `json:"document"`
	Question string `json:"question" binding:"required"`
	TopK     *int   `json:"top_k"`
	Scope    string `json:"scope" binding:"omitempty,oneof=document all"`
}

type SaveHistoryRequest struct {
	Turns []model.ChatTurn `json:"turns"`
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (r AskRequest) topK() int {
	if r.TopK == nil {
		return -1
	}
	return *r.TopK
}

func (h *ChatHandler) Search(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	chunks, err := h.chat.Search(c.Request.Context(), app.SearchInput{
		Document: req.Document,
		Query:    req.Question,
		TopK:     req.topK(),
		Scope:    req.Scope,
	})
	if err != nil {
		writeError(c, err, "search failed")
		return
	}
	response.OK(c, chunks)
}

func (h *ChatHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.chat.Ask(c.Request.Context(), app.AskInput{
		Document: req.Document,
		Question: req.Question,
		TopK:     req.topK(),
		Scope:    req.Scope,
	})
	if err != nil {
		writeError(c, err, "chat failed")
		return
	}
	response.OK(c, result)
}

// Stream answers over server-sent events. Every "data" line carries a JSON
// encoded text fragment; the final "done" event carries the AskResult.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	result, err := h.chat.StreamAsk(c.Request.Context(), app.AskInput{
		Document: req.Document,
		Question: req.Question,
		TopK:     req.topK(),
		Scope:    req.Scope,
	}, func(chunk string) error {
		if writeErr := writeEvent(c, "", chunk); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		_ = c.Error(err)
		if writeErr := writeEvent(c, "error", err.Error()); writeErr == nil {
			flusher.Flush()
		}
		return
	}
	if writeErr := writeEvent(c, "done", result); writeErr == nil {
		flusher.Flush()
	}
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	turns, err := h.chat.History(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err, "get history failed")
		return
	}
	response.OK(c, turns)
}

func (h *ChatHandler) SaveHistory(c *gin.Context) {
	var req SaveHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	turns, err := h.chat.SaveHistory(c.Request.Context(), c.Param("name"), req.Turns)
	if err != nil {
		writeError(c, err, "save history failed")
		return
	}
	response.OK(c, turns)
}

func (h *ChatHandler) ClearHistory(c *gin.Context) {
	name := c.Param("name")
	if err := h.chat.ClearHistory(c.Request.Context(), name); err != nil {
		writeError(c, err, "clear history failed")
		return
	}
	response.OK(c, gin.H{"cleared_document": name})
}

func writeEvent(c *gin.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	return err
}
