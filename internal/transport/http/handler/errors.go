package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

// writeError maps service errors to a status and envelope code. Errors
// outside the known set are reported with fallback so internals stay out
// of the response.
func writeError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrEmptyDocument):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeEmptyDocument, app.ErrEmptyDocument.Error())
	case errors.Is(err, app.ErrUnreadableDocument):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeUnreadableDocument, app.ErrUnreadableDocument.Error())
	case errors.Is(err, app.ErrVectorStoreUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeVectorStoreUnavailable, app.ErrVectorStoreUnavailable.Error())
	case errors.Is(err, app.ErrLLMUnavailable):
		response.Error(c, http.StatusBadGateway, response.CodeLLMUnavailable, app.ErrLLMUnavailable.Error())
	case errors.Is(err, app.ErrEmbeddingFailed):
		response.Error(c, http.StatusBadGateway, response.CodeEmbeddingFailed, app.ErrEmbeddingFailed.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
