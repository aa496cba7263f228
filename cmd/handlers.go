package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"talkai-gateway/core"
	"talkai-gateway/models"
)

const gatewayName = "talkai"

// handleRoot 服务信息
func handleRoot(g *gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"name":    "TalkAI OpenAI-compatible Gateway",
			"version": Version,
			"endpoints": gin.H{
				"chat":    "/v1/chat/completions",
				"models":  "/v1/models",
				"health":  "/health",
				"metrics": "/metrics",
			},
			"upstream":        g.cfg.UpstreamURL,
			"uptime_seconds":  int64(time.Since(g.startedAt).Seconds()),
			"recent_failures": len(g.access.RecentFailures()),
			"timestamp":       time.Now().Unix(),
		})
	}
}

// handleHealth 健康检查（无需鉴权）
func handleHealth(catalog *core.ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, models.HealthResponse{
			Status:    "ok",
			Gateway:   gatewayName,
			Models:    catalog.IDs(),
			Timestamp: time.Now().Unix(),
		})
	}
}

// handleListModels GET /v1/models
func handleListModels(catalog *core.ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, catalog.List())
	}
}

func handleMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
