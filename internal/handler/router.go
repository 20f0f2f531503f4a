package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/certquery/internal/middleware"
)

type RouterDeps struct {
	Ask             *AskHandler
	Health          *HealthHandler
	Reindex         *ReindexHandler
	RateLimitWindow time.Duration
	CORSAllow       []string
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.Use(middleware.CORS(deps.CORSAllow))

	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimitWindow))
	limited.POST("/ask", deps.Ask.Ask)
	limited.POST("/reindex", deps.Reindex.Reindex)

	api.GET("/health", deps.Health.Health)
}
