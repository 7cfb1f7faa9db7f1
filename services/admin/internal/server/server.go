package server

import (
	"time"

	"digitaltwin/services/admin/internal/auth"
	"digitaltwin/services/admin/internal/handler"
	"digitaltwin/services/admin/internal/routes"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewServer(h routes.Handlers, authMiddleware *auth.Middleware, logger *zap.Logger) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(logger))

	g.GET("/health", handler.Health)
	routes.RegisterWebhooks(g.Group("/webhooks"), h)

	api := g.Group("/api/v1")
	routes.RegisterRoutes(api, h, authMiddleware)

	return g
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if actor := auth.ActorID(c); actor != "" {
			fields = append(fields, zap.String("actor_id", actor))
		}
		if status >= 500 {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Debug("request completed", fields...)
	}
}
