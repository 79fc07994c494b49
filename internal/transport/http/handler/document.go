package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/model"
	"docchat/internal/transport/http/response"
)

type DocumentService interface {
	Ingest(ctx context.Context, name string, content []byte, source string) (*model.Document, error)
	IngestText(ctx context.Context, name, text string) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	Get(ctx context.Context, name string) (*model.Document, error)
	Delete(ctx context.Context, name string) error
	IndexDirectory(ctx context.Context, force bool) (*app.IndexReport, error)
}

type DocumentHandler struct {
	documents DocumentService
	maxUpload int64
}

type CreateTextDocumentRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	Content string `json:"content"`
}

type ReindexRequest struct {
	Force bool `json:"force"`
}

func NewDocumentHandler(documents DocumentService, maxUploadBytes int64) *DocumentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &DocumentHandler{documents: documents, maxUpload: maxUploadBytes}
}

// Upload accepts a multipart form with a .txt or .pdf "file".
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > h.maxUpload {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}

	doc, err := h.documents.Ingest(c.Request.Context(), file.Filename, content, model.SourceUpload)
	if err != nil {
		writeError(c, err, "ingest failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) CreateText(c *gin.Context) {
	var req CreateTextDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	doc, err := h.documents.IngestText(c.Request.Context(), req.Name, req.Content)
	if err != nil {
		writeError(c, err, "ingest failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.documents.Delete(c.Request.Context(), name); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document": name})
}

// Reindex re-scans the data directory. The body is optional.
func (h *DocumentHandler) Reindex(c *gin.Context) {
	var req ReindexRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
			return
		}
	}
	report, err := h.documents.IndexDirectory(c.Request.Context(), req.Force)
	if err != nil {
		writeError(c, err, "reindex failed")
		return
	}
	response.OK(c, report)
}
