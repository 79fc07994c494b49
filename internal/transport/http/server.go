package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/bootstrap"
	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
	"docchat/web"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.AccessLog(app.Logger, app.Metrics),
		middleware.Recovery(app.Logger),
	)

	checks := make(map[string]handler.CheckFunc)
	for name, check := range app.HealthChecks() {
		checks[name] = check
	}
	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks)

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", web.Index)
	})
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	maxUpload := int64(app.Config.App.MaxUploadMB) << 20
	registerAPI(
		router.Group("/api/v1"),
		handler.NewDocumentHandler(app.Documents, maxUpload),
		handler.NewChatHandler(app.Chat),
	)
	return router
}

func registerAPI(v1 *gin.RouterGroup, documentHandler *handler.DocumentHandler, chatHandler *handler.ChatHandler) {
	documents := v1.Group("/documents")
	documents.POST("", documentHandler.Upload)
	documents.POST("/text", documentHandler.CreateText)
	documents.POST("/reindex", documentHandler.Reindex)
	documents.GET("", documentHandler.List)
	documents.GET("/:name", documentHandler.Get)
	documents.DELETE("/:name", documentHandler.Delete)

	v1.POST("/search", chatHandler.Search)
	v1.POST("/chat", chatHandler.Ask)
	v1.POST("/chat/stream", chatHandler.Stream)

	history := v1.Group("/history")
	history.GET("/:name", chatHandler.GetHistory)
	history.PUT("/:name", chatHandler.SaveHistory)
	history.DELETE("/:name", chatHandler.ClearHistory)
}
