package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docrag/internal/metrics"
	"github.com/xxxsen/docrag/internal/middleware"
)

type RouterDeps struct {
	RAG       *RAGHandler
	Metrics   *metrics.Metrics
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/", deps.RAG.Live)
	api.GET("/healthz", deps.RAG.Live)
	api.GET("/ready", deps.RAG.Ready)
	api.GET("/records", deps.RAG.Records)
	api.POST("/search", deps.RAG.Search)
	if deps.Metrics != nil {
		api.GET("/metrics", metricsHandler(deps.Metrics.Handler()))
	}

	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimit, 3))
	limited.POST("/upload", deps.RAG.Upload)
	limited.POST("/rag", deps.RAG.Ask)
}
