package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                     = 0
	CodeBadRequest             = 40000
	CodeDocumentNotFound       = 40401
	CodePayloadTooLarge        = 41300
	CodeEmptyDocument          = 42201
	CodeUnreadableDocument     = 42202
	CodeInternalServer         = 50000
	CodeLLMUnavailable         = 50201
	CodeEmbeddingFailed        = 50202
	CodeVectorStoreUnavailable = 50301
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
